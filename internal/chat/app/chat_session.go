package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"sirachat/internal/backend"
	chatdomain "sirachat/internal/chat/domain"
	chatrepo "sirachat/internal/chat/repository"
	memberdomain "sirachat/internal/member/domain"
	memberrepo "sirachat/internal/member/repository"
	"sirachat/pkg/apperr"
	"sirachat/pkg/config"
	"sirachat/pkg/logger"
)

// ChatEventKind definition chat session event
type ChatEventKind string

const (
	// ChatEventMessages full rendered thread
	ChatEventMessages ChatEventKind = "messages"
	// ChatEventTyping peer typing names
	ChatEventTyping ChatEventKind = "typing"
	// ChatEventPeer peer header
	ChatEventPeer ChatEventKind = "peer"
	// ChatEventGone the conversation vanished
	ChatEventGone ChatEventKind = "gone"
	// ChatEventComposer composer state
	ChatEventComposer ChatEventKind = "composer"
	// ChatEventError watcher error
	ChatEventError ChatEventKind = "error"
)

// PeerHeader what the chat header shows about the other member
type PeerHeader struct {
	UID       string    `json:"uid"`
	Username  string    `json:"username"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	Status    string    `json:"status"`
	LastSeen  time.Time `json:"last_seen"`
}

// ChatEvent one emission of an open chat session
type ChatEvent struct {
	Kind     ChatEventKind
	Bubbles  []chatdomain.Bubble
	Typing   []string
	Peer     *PeerHeader
	Composer chatdomain.ComposerState
	Err      error
}

// SendInput one outgoing message before the repos see it
type SendInput struct {
	Text       string
	Attachment *chatdomain.Attachment
}

// ChatSession one open conversation. Owns three watchers (messages,
// typing, the conversation doc) and the composer, all torn down together
// when the chat is closed or switched.
type ChatSession struct {
	chatID   string
	self     memberdomain.UserProfile
	convRepo chatrepo.ConversationRepository
	msgRepo  chatrepo.MessageRepository
	userRepo memberrepo.UserRepository
	composer *Composer
	cfg      config.ChatConfig

	events chan ChatEvent
	cancel context.CancelFunc

	mu       sync.RWMutex
	messages []chatdomain.Message
	peerUID  string
	gone     bool
}

// OpenChatSession start watching one conversation. The previous session
// must be closed first, its message state never leaks into this one.
func OpenChatSession(ctx context.Context,
	chatID string,
	self memberdomain.UserProfile,
	convRepo chatrepo.ConversationRepository,
	msgRepo chatrepo.MessageRepository,
	typingRepo chatrepo.TypingRepository,
	userRepo memberrepo.UserRepository,
	cfg config.ChatConfig,
) (*ChatSession, error) {
	cfg.Defaults()
	s := &ChatSession{
		chatID:   chatID,
		self:     self,
		convRepo: convRepo,
		msgRepo:  msgRepo,
		userRepo: userRepo,
		cfg:      cfg,
		events:   make(chan ChatEvent, 64),
	}
	s.composer = NewComposer(chatID, self.UID, self.Username, typingRepo, cfg, func(st chatdomain.ComposerState) {
		s.emit(ChatEvent{Kind: ChatEventComposer, Composer: st})
	})

	watchCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	msgCh, err := msgRepo.Watch(watchCtx, chatID)
	if err != nil {
		cancel()
		return nil, err
	}
	typingCh, err := typingRepo.Watch(watchCtx, chatID)
	if err != nil {
		cancel()
		return nil, err
	}
	convCh, err := convRepo.Watch(watchCtx, chatID)
	if err != nil {
		cancel()
		return nil, err
	}

	go s.watchMessages(watchCtx, msgCh)
	go s.watchTyping(watchCtx, typingCh)
	go s.watchConversation(watchCtx, convCh)

	// 打開聊天視窗即視為已讀
	if err := convRepo.ResetUnread(ctx, chatID, self.UID); err != nil {
		logger.Log.Warnf("reset unread failed chat=%s: %v", chatID, err)
	}
	return s, nil
}

// ChatID the open conversation
func (s *ChatSession) ChatID() string {
	return s.chatID
}

// Events session feed
func (s *ChatSession) Events() <-chan ChatEvent {
	return s.events
}

// Composer the session's input state machine
func (s *ChatSession) Composer() *Composer {
	return s.composer
}

func (s *ChatSession) emit(ev ChatEvent) {
	select {
	case s.events <- ev:
	default:
		logger.Log.Warnf("chat event dropped chat=%s kind=%s", s.chatID, ev.Kind)
	}
}

func (s *ChatSession) watchMessages(ctx context.Context, ch <-chan chatrepo.MessagesEvent) {
	for ev := range ch {
		if ev.Err != nil {
			s.emit(ChatEvent{Kind: ChatEventError, Err: apperr.Wrap(apperr.ErrBackendUnavailable, ev.Err.Error())})
			continue
		}
		s.mu.Lock()
		s.messages = ev.Messages
		s.mu.Unlock()
		s.emit(ChatEvent{Kind: ChatEventMessages, Bubbles: RenderMessages(ev.Messages, s.self.UID)})

		// 視窗開著時新訊息直接視為已讀
		if err := s.convRepo.ResetUnread(ctx, s.chatID, s.self.UID); err != nil {
			logger.Log.Warnf("reset unread failed chat=%s: %v", s.chatID, err)
		}
	}
}

func (s *ChatSession) watchTyping(ctx context.Context, ch <-chan chatrepo.TypingEvent) {
	var entries []chatdomain.TypingEntry

	// 對方斷線時 is_typing 可能停在 true，到期要自己重算一次
	expiry := time.NewTimer(time.Hour)
	if !expiry.Stop() {
		<-expiry.C
	}
	defer expiry.Stop()

	refresh := func() {
		now := time.Now()
		names := make([]string, 0, len(entries))
		var next time.Time
		for _, e := range entries {
			if e.UID == s.self.UID {
				continue
			}
			if e.ActiveWithin(s.cfg.TypingStale, now) {
				names = append(names, e.DisplayName)
				at := e.UpdatedAt.Add(s.cfg.TypingStale)
				if next.IsZero() || at.Before(next) {
					next = at
				}
			}
		}
		s.emit(ChatEvent{Kind: ChatEventTyping, Typing: names})

		if !expiry.Stop() {
			select {
			case <-expiry.C:
			default:
			}
		}
		if !next.IsZero() {
			expiry.Reset(time.Until(next) + 10*time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Err != nil {
				continue
			}
			entries = ev.Entries
			refresh()
		case <-expiry.C:
			refresh()
		}
	}
}

func (s *ChatSession) watchConversation(ctx context.Context, ch <-chan chatrepo.ConversationEvent) {
	for ev := range ch {
		if ev.Err != nil {
			s.emit(ChatEvent{Kind: ChatEventError, Err: apperr.Wrap(apperr.ErrBackendUnavailable, ev.Err.Error())})
			continue
		}
		if !ev.Exists {
			// 對話被刪掉了，通知上層退回清單
			s.mu.Lock()
			s.gone = true
			s.mu.Unlock()
			s.emit(ChatEvent{Kind: ChatEventGone})
			return
		}

		peerUID := ev.Conversation.PeerOf(s.self.UID)
		s.mu.Lock()
		s.peerUID = peerUID
		s.mu.Unlock()

		header := &PeerHeader{UID: peerUID, Username: peerUID}
		if p, ok := ev.Conversation.MemberProfiles[peerUID]; ok && p.Username != "" {
			header.Username = p.Username
			header.AvatarURL = p.AvatarURL
		}
		if profile, err := s.userRepo.Find(ctx, peerUID); err == nil {
			header.Username = profile.Username
			header.AvatarURL = profile.AvatarURL
			header.Status = string(profile.Status)
			header.LastSeen = profile.LastSeen
		}
		s.emit(ChatEvent{Kind: ChatEventPeer, Peer: header})
	}
}

// Send append one message. Text is trimmed and capped, an empty send
// needs an attachment, and a pending quote is attached exactly once.
func (s *ChatSession) Send(ctx context.Context, in SendInput) error {
	if s.composer.Mode() == chatdomain.ModeEditing {
		return apperr.Wrap(apperr.ErrValidation, "composer is editing")
	}

	text := strings.TrimSpace(in.Text)
	if text == "" && in.Attachment == nil {
		return apperr.Wrap(apperr.ErrValidation, "message is empty")
	}
	if len([]rune(text)) > s.cfg.MaxMessageLen {
		return apperr.Wrapf(apperr.ErrValidation, "message longer than %d chars", s.cfg.MaxMessageLen)
	}

	msg := &chatdomain.Message{
		ChatID:     s.chatID,
		SenderID:   s.self.UID,
		SenderName: s.self.Username,
		Text:       text,
		Attachment: in.Attachment,
		ReplyTo:    s.composer.ConsumeReply(),
	}
	if _, err := s.msgRepo.Append(ctx, s.chatID, msg); err != nil {
		return err
	}

	s.mu.RLock()
	peerUID := s.peerUID
	s.mu.RUnlock()
	if peerUID == "" {
		// conversation watcher 還沒跟上時從 chat id 還原對方
		fallback := chatdomain.Conversation{Members: strings.Split(s.chatID, "__")}
		peerUID = fallback.PeerOf(s.self.UID)
	}
	if err := s.convRepo.RecordMessage(ctx, s.chatID, chatdomain.Preview(text, in.Attachment), peerUID); err != nil {
		logger.Log.Warnf("record message failed chat=%s: %v", s.chatID, err)
	}

	s.composer.StopTyping()
	return nil
}

// SendSticker stickers go out as a glyph body with a sticker attachment
func (s *ChatSession) SendSticker(ctx context.Context, glyph string) error {
	if !chatdomain.IsSticker(glyph) {
		return apperr.Wrap(apperr.ErrValidation, "unknown sticker")
	}
	return s.Send(ctx, SendInput{
		Text:       glyph,
		Attachment: &chatdomain.Attachment{Kind: chatdomain.KindSticker},
	})
}

// Edit rewrite an own text message in place
func (s *ChatSession) Edit(ctx context.Context, messageID, text string) error {
	msg, err := s.msgRepo.Find(ctx, s.chatID, messageID)
	if err != nil {
		return err
	}
	if !msg.CanEdit(s.self.UID) {
		return apperr.Wrap(apperr.ErrPermissionDenied, "message is not editable")
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return apperr.Wrap(apperr.ErrValidation, "edited text is empty")
	}
	if len([]rune(trimmed)) > s.cfg.MaxMessageLen {
		return apperr.Wrapf(apperr.ErrValidation, "message longer than %d chars", s.cfg.MaxMessageLen)
	}

	if err := s.msgRepo.Rewrite(ctx, s.chatID, messageID, trimmed); err != nil {
		return err
	}
	s.composer.FinishEdit()
	return nil
}

// Delete tombstone an own message
func (s *ChatSession) Delete(ctx context.Context, messageID string) error {
	msg, err := s.msgRepo.Find(ctx, s.chatID, messageID)
	if err != nil {
		return err
	}
	if !msg.CanDelete(s.self.UID) {
		return apperr.Wrap(apperr.ErrPermissionDenied, "message is not deletable")
	}
	return s.msgRepo.SoftDelete(ctx, s.chatID, messageID)
}

// BeginEdit enter editing mode on one of the thread's messages
func (s *ChatSession) BeginEdit(messageID string) error {
	msg := s.findLocal(messageID)
	if msg == nil {
		return apperr.Wrap(apperr.ErrNotFound, "message "+messageID)
	}
	return s.composer.BeginEdit(msg)
}

// BeginReply enter replying mode on one of the thread's messages
func (s *ChatSession) BeginReply(messageID string) error {
	msg := s.findLocal(messageID)
	if msg == nil {
		return apperr.Wrap(apperr.ErrNotFound, "message "+messageID)
	}
	return s.composer.BeginReply(msg)
}

func (s *ChatSession) findLocal(messageID string) *chatdomain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			m := s.messages[i]
			return &m
		}
	}
	return nil
}

// DeleteConversation cascade delete the whole conversation, messages and
// typing doc first and the conversation doc last
func (s *ChatSession) DeleteConversation(ctx context.Context, store backend.DocumentStore) error {
	msgs, err := s.msgRepo.List(ctx, s.chatID)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}

	batch := store.Batch()
	s.convRepo.DeleteBatch(batch, s.chatID, ids)
	if err := batch.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.ErrBackendUnavailable, err.Error())
	}
	return nil
}

// Close tear down watchers and flip the typing flag off
func (s *ChatSession) Close() {
	s.composer.Close()
	if s.cancel != nil {
		s.cancel()
	}
}
