package domain

import (
	"regexp"
	"strings"
	"time"

	"sirachat/internal/backend"
	"sirachat/pkg/apperr"
)

// PresenceStatus definition user presence
type PresenceStatus string

const (
	// StatusOnline user has a live session
	StatusOnline PresenceStatus = "online"
	// StatusOffline no live session
	StatusOffline PresenceStatus = "offline"
)

// MaxUsernameLen display name length cap
const MaxUsernameLen = 32

// SessionKeyPrefix redis key prefix of session records
const SessionKeyPrefix = "chat.user:"

var whitespaceRe = regexp.MustCompile(`\s+`)

// UserProfile 使用者檔案，uid 由顯示名稱決定
type UserProfile struct {
	UID       string         `json:"uid"`
	Username  string         `json:"username"`
	AvatarURL string         `json:"avatar_url,omitempty"`
	Status    PresenceStatus `json:"status"`
	LastSeen  time.Time      `json:"last_seen"`
	CreatedAt time.Time      `json:"created_at"`
}

// DeriveUID identity key of a display name, lowercased with whitespace
// runs collapsed to a single underscore
func DeriveUID(username string) string {
	return whitespaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(username)), "_")
}

// ValidateUsername trimmed display name or a validation error
func ValidateUsername(username string) (string, error) {
	name := strings.TrimSpace(username)
	if name == "" {
		return "", apperr.Wrap(apperr.ErrValidation, "username is empty")
	}
	if len([]rune(name)) > MaxUsernameLen {
		return "", apperr.Wrapf(apperr.ErrValidation, "username longer than %d chars", MaxUsernameLen)
	}
	return name, nil
}

// DocPath storage path of the profile doc
func (u *UserProfile) DocPath() string {
	return "users/" + u.UID
}

// ToDoc profile fields as stored
func (u *UserProfile) ToDoc() backend.Doc {
	return backend.Doc{
		"username":   u.Username,
		"avatar_url": u.AvatarURL,
		"status":     string(u.Status),
		"last_seen":  backend.ServerTimestamp(),
		"created_at": backend.ServerTimestamp(),
	}
}

// ProfileFromSnapshot decode a stored profile
func ProfileFromSnapshot(snap backend.Snapshot) UserProfile {
	doc := snap.Doc
	return UserProfile{
		UID:       snap.ID,
		Username:  doc.AsString("username"),
		AvatarURL: doc.AsString("avatar_url"),
		Status:    PresenceStatus(doc.AsString("status")),
		LastSeen:  doc.AsTime("last_seen"),
		CreatedAt: doc.AsTime("created_at"),
	}
}

// SessionRecord persisted sign-in state, the session survives reconnects
// until logout or account deletion removes it
type SessionRecord struct {
	UID        string      `json:"uid"`
	Profile    UserProfile `json:"profile"`
	SignedInAt time.Time   `json:"signed_in_at"`
}

// SessionKey redis key of one user's session record
func SessionKey(uid string) string {
	return SessionKeyPrefix + uid
}

// AvatarObjectPath blob path of one user's avatar, replaced on re-upload
func AvatarObjectPath(uid string) string {
	return "avatars/" + uid
}
