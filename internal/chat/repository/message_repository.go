package repository

import (
	"context"
	"errors"

	"sirachat/internal/backend"
	chatdomain "sirachat/internal/chat/domain"
	"sirachat/pkg/apperr"
)

// MessagesPath storage path of one conversation's message collection
func MessagesPath(chatID string) string {
	return ConversationPath(chatID) + "/messages"
}

// MessagePath storage path of one message doc
func MessagePath(chatID, messageID string) string {
	return MessagesPath(chatID) + "/" + messageID
}

// MessagesEvent one emission of a message stream watch
type MessagesEvent struct {
	Messages []chatdomain.Message
	Err      error
}

// MessageRepository persistence of chat messages
type MessageRepository interface {
	Append(ctx context.Context, chatID string, msg *chatdomain.Message) (string, error)
	Find(ctx context.Context, chatID, messageID string) (*chatdomain.Message, error)
	List(ctx context.Context, chatID string) ([]chatdomain.Message, error)
	Watch(ctx context.Context, chatID string) (<-chan MessagesEvent, error)
	Rewrite(ctx context.Context, chatID, messageID, text string) error
	SoftDelete(ctx context.Context, chatID, messageID string) error
}

type messageRepository struct {
	store backend.DocumentStore
}

// NewMessageRepository create the repository over a document store
func NewMessageRepository(store backend.DocumentStore) MessageRepository {
	return &messageRepository{store: store}
}

func (r *messageRepository) Append(ctx context.Context, chatID string, msg *chatdomain.Message) (string, error) {
	id, err := r.store.AddDoc(ctx, MessagesPath(chatID), msg.ToDoc())
	if err != nil {
		return "", apperr.Wrap(apperr.ErrBackendUnavailable, err.Error())
	}
	return id, nil
}

func (r *messageRepository) Find(ctx context.Context, chatID, messageID string) (*chatdomain.Message, error) {
	snap, err := r.store.GetDoc(ctx, MessagePath(chatID, messageID))
	if errors.Is(err, backend.ErrDocNotFound) {
		return nil, apperr.Wrap(apperr.ErrNotFound, "message "+messageID)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrBackendUnavailable, err.Error())
	}
	m := chatdomain.MessageFromSnapshot(chatID, snap)
	return &m, nil
}

func (r *messageRepository) List(ctx context.Context, chatID string) ([]chatdomain.Message, error) {
	snaps, err := r.store.RunQuery(ctx, backend.Query{
		Collection: MessagesPath(chatID),
		OrderBy:    "timestamp",
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrBackendUnavailable, err.Error())
	}
	msgs := make([]chatdomain.Message, 0, len(snaps))
	for _, snap := range snaps {
		msgs = append(msgs, chatdomain.MessageFromSnapshot(chatID, snap))
	}
	return msgs, nil
}

func (r *messageRepository) Watch(ctx context.Context, chatID string) (<-chan MessagesEvent, error) {
	raw, err := r.store.WatchQuery(ctx, backend.Query{
		Collection: MessagesPath(chatID),
		OrderBy:    "timestamp",
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrBackendUnavailable, err.Error())
	}

	ch := make(chan MessagesEvent, 8)
	go func() {
		defer close(ch)
		for ev := range raw {
			out := MessagesEvent{Err: ev.Err}
			if ev.Err == nil {
				out.Messages = make([]chatdomain.Message, 0, len(ev.Docs))
				for _, snap := range ev.Docs {
					out.Messages = append(out.Messages, chatdomain.MessageFromSnapshot(chatID, snap))
				}
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

// Rewrite replace the text of an edited message and mark it edited.
// The original timestamp is untouched so the message keeps its place.
func (r *messageRepository) Rewrite(ctx context.Context, chatID, messageID, text string) error {
	err := r.store.UpdateDoc(ctx, MessagePath(chatID, messageID), backend.Doc{
		"text":   text,
		"edited": true,
	})
	if errors.Is(err, backend.ErrDocNotFound) {
		return apperr.Wrap(apperr.ErrNotFound, "message "+messageID)
	}
	return err
}

// SoftDelete tombstone the message in place, attachment and reply payloads
// are blanked so nothing lingers behind the placeholder
func (r *messageRepository) SoftDelete(ctx context.Context, chatID, messageID string) error {
	err := r.store.UpdateDoc(ctx, MessagePath(chatID, messageID), backend.Doc{
		"text":       chatdomain.Tombstone,
		"deleted":    true,
		"attachment": nil,
		"reply_to":   nil,
	})
	if errors.Is(err, backend.ErrDocNotFound) {
		return apperr.Wrap(apperr.ErrNotFound, "message "+messageID)
	}
	return err
}
