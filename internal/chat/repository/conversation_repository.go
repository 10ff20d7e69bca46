package repository

import (
	"context"
	"errors"

	"sirachat/internal/backend"
	chatdomain "sirachat/internal/chat/domain"
	"sirachat/pkg/apperr"
)

// ConversationsCollection root collection of conversation docs
const ConversationsCollection = "conversations"

// ConversationPath storage path of one conversation doc
func ConversationPath(chatID string) string {
	return ConversationsCollection + "/" + chatID
}

// ConversationEvent one emission of a single-conversation watch
type ConversationEvent struct {
	Conversation chatdomain.Conversation
	Exists       bool
	Err          error
}

// ConversationsEvent one emission of a member-scoped conversation watch
type ConversationsEvent struct {
	Conversations []chatdomain.Conversation
	Err           error
}

// ConversationRepository persistence of two-member conversations
type ConversationRepository interface {
	Find(ctx context.Context, chatID string) (*chatdomain.Conversation, error)
	Ensure(ctx context.Context, self, peer *chatdomain.MemberSeed) (string, error)
	Watch(ctx context.Context, chatID string) (<-chan ConversationEvent, error)
	WatchByMember(ctx context.Context, uid string) (<-chan ConversationsEvent, error)
	RecordMessage(ctx context.Context, chatID, preview, peerUID string) error
	ResetUnread(ctx context.Context, chatID, uid string) error
	RefreshMemberProfile(ctx context.Context, uid string, profile chatdomain.MemberProfile) error
	DeleteBatch(batch backend.WriteBatch, chatID string, messageIDs []string)
}

type conversationRepository struct {
	store backend.DocumentStore
}

// NewConversationRepository create the repository over a document store
func NewConversationRepository(store backend.DocumentStore) ConversationRepository {
	return &conversationRepository{store: store}
}

func (r *conversationRepository) Find(ctx context.Context, chatID string) (*chatdomain.Conversation, error) {
	snap, err := r.store.GetDoc(ctx, ConversationPath(chatID))
	if errors.Is(err, backend.ErrDocNotFound) {
		return nil, apperr.Wrap(apperr.ErrNotFound, "conversation "+chatID)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrBackendUnavailable, err.Error())
	}
	c := chatdomain.ConversationFromSnapshot(snap)
	return &c, nil
}

// Ensure create the conversation when absent, reuse when present. The id is
// derived from the member pair so both sides converge on the same doc.
func (r *conversationRepository) Ensure(ctx context.Context, self, peer *chatdomain.MemberSeed) (string, error) {
	chatID := chatdomain.ConversationID(self.UID, peer.UID)

	_, err := r.store.GetDoc(ctx, ConversationPath(chatID))
	if err == nil {
		return chatID, nil
	}
	if !errors.Is(err, backend.ErrDocNotFound) {
		return "", apperr.Wrap(apperr.ErrBackendUnavailable, err.Error())
	}

	conv := chatdomain.Conversation{
		ID:      chatID,
		Members: []string{self.UID, peer.UID},
		MemberProfiles: map[string]chatdomain.MemberProfile{
			self.UID: self.Profile,
			peer.UID: peer.Profile,
		},
		UnreadCounts: map[string]int64{self.UID: 0, peer.UID: 0},
	}
	if err := r.store.SetDoc(ctx, ConversationPath(chatID), conv.ToDoc(), false); err != nil {
		return "", apperr.Wrap(apperr.ErrBackendUnavailable, err.Error())
	}
	return chatID, nil
}

func (r *conversationRepository) Watch(ctx context.Context, chatID string) (<-chan ConversationEvent, error) {
	raw, err := r.store.WatchDoc(ctx, ConversationPath(chatID))
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrBackendUnavailable, err.Error())
	}

	ch := make(chan ConversationEvent, 8)
	go func() {
		defer close(ch)
		for ev := range raw {
			out := ConversationEvent{Exists: ev.Snapshot.Exists, Err: ev.Err}
			if ev.Err == nil && ev.Snapshot.Exists {
				out.Conversation = chatdomain.ConversationFromSnapshot(ev.Snapshot)
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

func (r *conversationRepository) WatchByMember(ctx context.Context, uid string) (<-chan ConversationsEvent, error) {
	raw, err := r.store.WatchQuery(ctx, backend.Query{
		Collection: ConversationsCollection,
		Conds: []backend.Cond{
			{Field: "members", Op: backend.OpArrayContains, Value: uid},
		},
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrBackendUnavailable, err.Error())
	}

	ch := make(chan ConversationsEvent, 8)
	go func() {
		defer close(ch)
		for ev := range raw {
			out := ConversationsEvent{Err: ev.Err}
			if ev.Err == nil {
				out.Conversations = make([]chatdomain.Conversation, 0, len(ev.Docs))
				for _, snap := range ev.Docs {
					out.Conversations = append(out.Conversations, chatdomain.ConversationFromSnapshot(snap))
				}
				chatdomain.SortConversations(out.Conversations)
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

// RecordMessage bump the preview fields and the peer's unread counter in a
// single partial write
func (r *conversationRepository) RecordMessage(ctx context.Context, chatID, preview, peerUID string) error {
	return r.store.UpdateDoc(ctx, ConversationPath(chatID), backend.Doc{
		"last_message":            preview,
		"last_message_timestamp":  backend.ServerTimestamp(),
		"unread_counts." + peerUID: backend.Increment(1),
	})
}

func (r *conversationRepository) ResetUnread(ctx context.Context, chatID, uid string) error {
	return r.store.UpdateDoc(ctx, ConversationPath(chatID), backend.Doc{
		"unread_counts." + uid: int64(0),
	})
}

// RefreshMemberProfile push a fresh denormalized snapshot into every
// conversation the user belongs to
func (r *conversationRepository) RefreshMemberProfile(ctx context.Context, uid string, profile chatdomain.MemberProfile) error {
	snaps, err := r.store.RunQuery(ctx, backend.Query{
		Collection: ConversationsCollection,
		Conds: []backend.Cond{
			{Field: "members", Op: backend.OpArrayContains, Value: uid},
		},
	})
	if err != nil {
		return apperr.Wrap(apperr.ErrBackendUnavailable, err.Error())
	}

	batch := r.store.Batch()
	for _, snap := range snaps {
		batch.Update(snap.Path, backend.Doc{
			"member_profiles." + uid + ".username":   profile.Username,
			"member_profiles." + uid + ".avatar_url": profile.AvatarURL,
		})
	}
	return batch.Commit(ctx)
}

// DeleteBatch queue the full conversation cascade, messages first and the
// conversation doc last
func (r *conversationRepository) DeleteBatch(batch backend.WriteBatch, chatID string, messageIDs []string) {
	for _, mid := range messageIDs {
		batch.Delete(MessagePath(chatID, mid))
	}
	batch.Delete(TypingDocPath(chatID))
	batch.Delete(ConversationPath(chatID))
}
