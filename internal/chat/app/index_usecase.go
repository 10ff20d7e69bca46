package app

import (
	"context"
	"errors"

	chatdomain "sirachat/internal/chat/domain"
	chatrepo "sirachat/internal/chat/repository"
	memberdomain "sirachat/internal/member/domain"
	memberrepo "sirachat/internal/member/repository"
	"sirachat/pkg/apperr"
	"sirachat/pkg/logger"
)

// IndexEvent one emission of the conversation list
type IndexEvent struct {
	Rows  []chatdomain.ConversationView
	Badge int64
	Err   error
}

// ConversationIndex 這裡封裝了對話清單的應用服務
type ConversationIndex interface {
	Start(ctx context.Context) (<-chan IndexEvent, error)
	StartChat(ctx context.Context, partnerUID string) (string, error)
	ListUsers(ctx context.Context) ([]memberdomain.UserProfile, error)
}

type conversationIndex struct {
	uid      string
	profile  func() memberdomain.UserProfile
	convRepo chatrepo.ConversationRepository
	userRepo memberrepo.UserRepository
}

// NewConversationIndex create the index for one signed-in user. The
// profile getter keeps the self snapshot fresh without another watcher.
func NewConversationIndex(uid string,
	profile func() memberdomain.UserProfile,
	convRepo chatrepo.ConversationRepository,
	userRepo memberrepo.UserRepository,
) ConversationIndex {
	return &conversationIndex{
		uid:      uid,
		profile:  profile,
		convRepo: convRepo,
		userRepo: userRepo,
	}
}

// Start live conversation list, rows ordered by recency with the total
// unread badge alongside
func (ci *conversationIndex) Start(ctx context.Context) (<-chan IndexEvent, error) {
	raw, err := ci.convRepo.WatchByMember(ctx, ci.uid)
	if err != nil {
		return nil, err
	}

	ch := make(chan IndexEvent, 8)
	go func() {
		defer close(ch)
		for ev := range raw {
			out := IndexEvent{Err: ev.Err}
			if ev.Err == nil {
				out.Rows, out.Badge = ci.buildRows(ctx, ev.Conversations)
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

// buildRows resolve each row's peer. The denormalized snapshot on the
// conversation wins, a directory lookup fills gaps, and a placeholder
// keeps the row visible when both are missing.
func (ci *conversationIndex) buildRows(ctx context.Context, convs []chatdomain.Conversation) ([]chatdomain.ConversationView, int64) {
	rows := make([]chatdomain.ConversationView, 0, len(convs))
	var badge int64

	for _, conv := range convs {
		peerID := conv.PeerOf(ci.uid)
		row := chatdomain.ConversationView{
			Conversation: conv,
			PeerID:       peerID,
			PeerName:     peerID,
			Unread:       conv.UnreadFor(ci.uid),
		}

		if p, ok := conv.MemberProfiles[peerID]; ok && p.Username != "" {
			row.PeerName = p.Username
			row.PeerAvatar = p.AvatarURL
		} else if profile, err := ci.userRepo.Find(ctx, peerID); err == nil {
			row.PeerName = profile.Username
			row.PeerAvatar = profile.AvatarURL
		} else if !errors.Is(err, apperr.ErrNotFound) {
			logger.Log.Warnf("peer lookup failed uid=%s: %v", peerID, err)
		}

		badge += row.Unread
		rows = append(rows, row)
	}
	return rows, badge
}

// StartChat open or create the conversation with a partner. Both sides
// derive the same id so there is never a duplicate pair.
func (ci *conversationIndex) StartChat(ctx context.Context, partnerUID string) (string, error) {
	if partnerUID == "" {
		return "", apperr.Wrap(apperr.ErrValidation, "partner id is empty")
	}

	partner, err := ci.userRepo.Find(ctx, partnerUID)
	if err != nil {
		return "", err
	}

	self := ci.profile()
	return ci.convRepo.Ensure(ctx,
		&chatdomain.MemberSeed{
			UID:     ci.uid,
			Profile: chatdomain.MemberProfile{Username: self.Username, AvatarURL: self.AvatarURL},
		},
		&chatdomain.MemberSeed{
			UID:     partner.UID,
			Profile: chatdomain.MemberProfile{Username: partner.Username, AvatarURL: partner.AvatarURL},
		})
}

// ListUsers everyone except self, for the new-chat picker
func (ci *conversationIndex) ListUsers(ctx context.Context) ([]memberdomain.UserProfile, error) {
	return ci.userRepo.ListOthers(ctx, ci.uid)
}
