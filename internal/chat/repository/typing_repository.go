package repository

import (
	"context"

	"sirachat/internal/backend"
	chatdomain "sirachat/internal/chat/domain"
	"sirachat/pkg/apperr"
)

// TypingDocPath storage path of one conversation's typing doc, a single doc
// holding one nested entry per member
func TypingDocPath(chatID string) string {
	return ConversationPath(chatID) + "/typing_status/state"
}

// TypingEvent one emission of a typing watch
type TypingEvent struct {
	Entries []chatdomain.TypingEntry
	Err     error
}

// TypingRepository persistence of typing indicators
type TypingRepository interface {
	Watch(ctx context.Context, chatID string) (<-chan TypingEvent, error)
	Publish(ctx context.Context, chatID, uid, displayName string, isTyping bool) error
}

type typingRepository struct {
	store backend.DocumentStore
}

// NewTypingRepository create the repository over a document store
func NewTypingRepository(store backend.DocumentStore) TypingRepository {
	return &typingRepository{store: store}
}

func (r *typingRepository) Watch(ctx context.Context, chatID string) (<-chan TypingEvent, error) {
	raw, err := r.store.WatchDoc(ctx, TypingDocPath(chatID))
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrBackendUnavailable, err.Error())
	}

	ch := make(chan TypingEvent, 8)
	go func() {
		defer close(ch)
		for ev := range raw {
			out := TypingEvent{Err: ev.Err}
			if ev.Err == nil {
				out.Entries = chatdomain.TypingEntriesFromSnapshot(ev.Snapshot)
			}
			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Publish merge-write only the caller's own entry, the peer's entry in the
// shared doc stays untouched
func (r *typingRepository) Publish(ctx context.Context, chatID, uid, displayName string, isTyping bool) error {
	return r.store.SetDoc(ctx, TypingDocPath(chatID), backend.Doc{
		uid: backend.Doc{
			"display_name": displayName,
			"is_typing":    isTyping,
			"updated_at":   backend.ServerTimestamp(),
		},
	}, true)
}
