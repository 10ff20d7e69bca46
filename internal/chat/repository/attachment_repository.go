package repository

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"sirachat/internal/backend"
	chatdomain "sirachat/internal/chat/domain"
	memberdomain "sirachat/internal/member/domain"
	"sirachat/pkg/apperr"
)

var unsafeNameRe = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// AttachmentRepository blob uploads for messages and avatars
type AttachmentRepository interface {
	UploadAttachment(ctx context.Context, fileName, contentType string, r io.Reader, size int64, onProgress backend.Progress) (*chatdomain.Attachment, error)
	UploadAvatar(ctx context.Context, uid, contentType string, r io.Reader, size int64) (string, error)
}

type attachmentRepository struct {
	blobs backend.BlobStore
}

// NewAttachmentRepository create the repository over a blob store
func NewAttachmentRepository(blobs backend.BlobStore) AttachmentRepository {
	return &attachmentRepository{blobs: blobs}
}

// UploadAttachment store the blob under a timestamped name and classify it
// from the content type, image/* renders inline and everything else becomes
// a document chip
func (r *attachmentRepository) UploadAttachment(ctx context.Context, fileName, contentType string, reader io.Reader, size int64, onProgress backend.Progress) (*chatdomain.Attachment, error) {
	path := fmt.Sprintf("attachments/%d_%s", time.Now().UnixMilli(), sanitizeFileName(fileName))

	url, err := r.blobs.Upload(ctx, path, reader, size, contentType, onProgress)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrUploadFailed, err.Error())
	}

	kind := chatdomain.KindFile
	if strings.HasPrefix(contentType, "image/") {
		kind = chatdomain.KindImage
	}
	return &chatdomain.Attachment{
		URL:      url,
		Kind:     kind,
		FileName: fileName,
	}, nil
}

// UploadAvatar avatars must be images and live under a fixed per-user path
// so a re-upload replaces the previous one
func (r *attachmentRepository) UploadAvatar(ctx context.Context, uid, contentType string, reader io.Reader, size int64) (string, error) {
	if !strings.HasPrefix(contentType, "image/") {
		return "", apperr.Wrap(apperr.ErrValidation, "avatar must be an image")
	}

	url, err := r.blobs.Upload(ctx, memberdomain.AvatarObjectPath(uid), reader, size, contentType, nil)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrUploadFailed, err.Error())
	}
	return url, nil
}

func sanitizeFileName(name string) string {
	clean := unsafeNameRe.ReplaceAllString(name, "_")
	if clean == "" || clean == "." || clean == ".." {
		clean = "file"
	}
	return clean
}
