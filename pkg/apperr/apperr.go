package apperr

import (
	"errors"
	"fmt"

	"sirachat/pkg/logger"
)

// 錯誤分類，對應前端的 toast / redirect 行為
var (
	// ErrNotAuthenticated no local session, caller redirects to sign-in
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrSessionRevoked profile doc vanished under a live watcher, force logout
	ErrSessionRevoked = errors.New("session revoked")
	// ErrBackendUnavailable transient transport error, keep last-known state
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrPermissionDenied write rejected by store, no retry
	ErrPermissionDenied = errors.New("permission denied")
	// ErrValidation composer/form layer error, no store call attempted
	ErrValidation = errors.New("validation error")
	// ErrUploadFailed attachment upload failed, composer returns to idle
	ErrUploadFailed = errors.New("upload failed")
	// ErrNotFound document or chat does not exist
	ErrNotFound = errors.New("not found")
)

// Set log err info and return it
func Set(errMsg string) error {
	logger.Log.Error(errMsg)
	return errors.New(errMsg)
}

// Wrap attach a detail message to one of the sentinel errors
func Wrap(sentinel error, detail string) error {
	if detail == "" {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, detail)
}

// Wrapf attach a formatted detail to one of the sentinel errors
func Wrapf(sentinel error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// Code map an error to its wire code for WSResponse / HTTP payloads
func Code(err error) string {
	switch {
	case errors.Is(err, ErrNotAuthenticated):
		return "not_authenticated"
	case errors.Is(err, ErrSessionRevoked):
		return "session_revoked"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrUploadFailed):
		return "upload_failed"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrBackendUnavailable):
		return "backend_unavailable"
	default:
		return "internal_error"
	}
}
