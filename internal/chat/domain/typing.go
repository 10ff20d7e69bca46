package domain

import (
	"time"

	"sirachat/internal/backend"
)

// TypingStaleAfter entries older than this are treated as not typing even
// when the flag was never flipped back
const TypingStaleAfter = 5 * time.Second

// TypingEntry one member's typing flag inside a conversation's typing doc
type TypingEntry struct {
	UID         string    `json:"uid"`
	DisplayName string    `json:"display_name"`
	IsTyping    bool      `json:"is_typing"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ActiveWithin the entry still counts as typing at the given instant
func (t *TypingEntry) ActiveWithin(window time.Duration, now time.Time) bool {
	if !t.IsTyping || t.UpdatedAt.IsZero() {
		return false
	}
	return now.Sub(t.UpdatedAt) <= window
}

// TypingEntriesFromSnapshot decode a typing status doc, one nested map per uid
func TypingEntriesFromSnapshot(snap backend.Snapshot) []TypingEntry {
	if !snap.Exists {
		return nil
	}
	entries := make([]TypingEntry, 0, len(snap.Doc))
	for uid := range snap.Doc {
		e := snap.Doc.AsDoc(uid)
		if e == nil {
			continue
		}
		entries = append(entries, TypingEntry{
			UID:         uid,
			DisplayName: e.AsString("display_name"),
			IsTyping:    e.AsBool("is_typing"),
			UpdatedAt:   e.AsTime("updated_at"),
		})
	}
	return entries
}
