package bdd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"sirachat/internal/backend"
	chatapp "sirachat/internal/chat/app"
	chatdomain "sirachat/internal/chat/domain"
	chatrepo "sirachat/internal/chat/repository"
	memberapp "sirachat/internal/member/app"
	memberdomain "sirachat/internal/member/domain"
	memberrepo "sirachat/internal/member/repository"
	"sirachat/pkg/apperr"
	"sirachat/pkg/config"
	"sirachat/pkg/database"
	"sirachat/pkg/logger"

	"github.com/cucumber/godog"
)

func TestFeatures(t *testing.T) {
	logger.SetNewNop()

	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Paths:  []string{"./featureFiles"}, // 指向 feature 檔相對路徑
			Format: "pretty",
			Output: os.Stdout,
		},
	}

	if suite.Run() != 0 {
		t.Fail()
	}
}

// chatWorld per-scenario state over the in-memory backend
type chatWorld struct {
	ctx        context.Context
	cancel     context.CancelFunc
	store      *backend.MemoryStore
	userRepo   memberrepo.UserRepository
	convRepo   chatrepo.ConversationRepository
	msgRepo    chatrepo.MessageRepository
	typingRepo chatrepo.TypingRepository
	memberUC   memberapp.MemberUseCase

	chatID    string
	sessions  map[string]*chatapp.ChatSession
	signinErr error
}

var world *chatWorld

// memorySessionStore RedisRepository stand-in for the BDD suite
type memorySessionStore struct {
	mu      sync.Mutex
	records map[string]memberdomain.SessionRecord
}

func (f *memorySessionStore) Set(ctx context.Context, key string, value memberdomain.SessionRecord, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[key] = value
	return nil
}

func (f *memorySessionStore) Get(ctx context.Context, key string) (memberdomain.SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[key]
	if !ok {
		return memberdomain.SessionRecord{}, database.ErrRedisNil
	}
	return record, nil
}

func (f *memorySessionStore) Del(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, key)
	return nil
}

func (f *memorySessionStore) GetTTL(ctx context.Context, key string) (int, error) { return 0, nil }
func (f *memorySessionStore) ExtendTTL(ctx context.Context, key string, ttl time.Duration) error {
	return nil
}

func newWorld() *chatWorld {
	ctx, cancel := context.WithCancel(context.Background())
	store := backend.NewMemoryStore()
	userRepo := memberrepo.NewUserRepository(store)
	sessions := &memorySessionStore{records: map[string]memberdomain.SessionRecord{}}

	return &chatWorld{
		ctx:        ctx,
		cancel:     cancel,
		store:      store,
		userRepo:   userRepo,
		convRepo:   chatrepo.NewConversationRepository(store),
		msgRepo:    chatrepo.NewMessageRepository(store),
		typingRepo: chatrepo.NewTypingRepository(store),
		memberUC:   memberapp.NewMemberUseCase(userRepo, time.Hour, sessions),
		sessions:   map[string]*chatapp.ChatSession{},
	}
}

func (w *chatWorld) close() {
	for _, s := range w.sessions {
		s.Close()
	}
	w.cancel()
}

func (w *chatWorld) openFor(name string) error {
	uid := memberdomain.DeriveUID(name)
	profile, err := w.userRepo.Find(w.ctx, uid)
	if err != nil {
		return err
	}
	session, err := chatapp.OpenChatSession(w.ctx, w.chatID, *profile,
		w.convRepo, w.msgRepo, w.typingRepo, w.userRepo, config.ChatConfig{})
	if err != nil {
		return err
	}
	w.sessions[uid] = session
	return nil
}

func (w *chatWorld) sessionOf(name string) (*chatapp.ChatSession, error) {
	uid := memberdomain.DeriveUID(name)
	s, ok := w.sessions[uid]
	if !ok {
		return nil, fmt.Errorf("%s has no open chat", name)
	}
	return s, nil
}

func (w *chatWorld) messages() ([]chatdomain.Message, error) {
	return w.msgRepo.List(w.ctx, w.chatID)
}

// InitializeScenario 註冊 Gherkin 與 Step Definition 的對應
func InitializeScenario(s *godog.ScenarioContext) {
	s.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		world = newWorld()
		return ctx, nil
	})
	s.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		world.close()
		return ctx, nil
	})

	s.Step(`^no user named "([^"]*)" exists$`, noUserNamedExists)
	s.Step(`^"([^"]*)" signs in$`, signsIn)
	s.Step(`^a profile with uid "([^"]*)" exists$`, aProfileWithUIDExists)
	s.Step(`^the display name is "([^"]*)"$`, theDisplayNameIs)
	s.Step(`^the sign in is rejected$`, theSignInIsRejected)

	s.Step(`^"([^"]*)" and "([^"]*)" share a conversation$`, shareAConversation)
	s.Step(`^"([^"]*)" has the conversation open$`, hasTheConversationOpen)
	s.Step(`^"([^"]*)" sends "([^"]*)"$`, sendsMessage)
	s.Step(`^the thread shows (\d+) message$`, theThreadShowsMessages)
	s.Step(`^the conversation preview is "([^"]*)"$`, theConversationPreviewIs)
	s.Step(`^the unread count of "([^"]*)" is (\d+)$`, theUnreadCountOfIs)
	s.Step(`^"([^"]*)" opens the conversation$`, opensTheConversation)
	s.Step(`^"([^"]*)" replies "([^"]*)" to the last message$`, repliesToTheLastMessage)
	s.Step(`^"([^"]*)" edits the first message to "([^"]*)"$`, editsTheFirstMessageTo)
	s.Step(`^the reply still quotes "([^"]*)"$`, theReplyStillQuotes)
	s.Step(`^"([^"]*)" deletes the last message$`, deletesTheLastMessage)
	s.Step(`^the last message is a tombstone$`, theLastMessageIsATombstone)
}

func noUserNamedExists(name string) error {
	uid := memberdomain.DeriveUID(name)
	_, err := world.userRepo.Find(world.ctx, uid)
	if err == nil {
		return fmt.Errorf("user %s already exists", uid)
	}
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	return err
}

func signsIn(name string) error {
	_, _, err := world.memberUC.SignIn(world.ctx, name)
	world.signinErr = err
	if err != nil && !errors.Is(err, apperr.ErrValidation) {
		return err
	}
	return nil
}

func aProfileWithUIDExists(uid string) error {
	_, err := world.userRepo.Find(world.ctx, uid)
	return err
}

func theDisplayNameIs(name string) error {
	profile, err := world.userRepo.Find(world.ctx, memberdomain.DeriveUID(name))
	if err != nil {
		return err
	}
	if profile.Username != name {
		return fmt.Errorf("expected display name %s, got %s", name, profile.Username)
	}
	return nil
}

func theSignInIsRejected() error {
	if !errors.Is(world.signinErr, apperr.ErrValidation) {
		return fmt.Errorf("expected a validation error, got %v", world.signinErr)
	}
	return nil
}

func shareAConversation(a, b string) error {
	for _, name := range []string{a, b} {
		if _, _, err := world.memberUC.SignIn(world.ctx, name); err != nil {
			return err
		}
	}
	uidA, uidB := memberdomain.DeriveUID(a), memberdomain.DeriveUID(b)
	chatID, err := world.convRepo.Ensure(world.ctx,
		&chatdomain.MemberSeed{UID: uidA, Profile: chatdomain.MemberProfile{Username: a}},
		&chatdomain.MemberSeed{UID: uidB, Profile: chatdomain.MemberProfile{Username: b}})
	if err != nil {
		return err
	}
	world.chatID = chatID
	return nil
}

func hasTheConversationOpen(name string) error {
	return world.openFor(name)
}

func sendsMessage(name, text string) error {
	s, err := world.sessionOf(name)
	if err != nil {
		return err
	}
	return s.Send(world.ctx, chatapp.SendInput{Text: text})
}

func theThreadShowsMessages(count int) error {
	msgs, err := world.messages()
	if err != nil {
		return err
	}
	if len(msgs) != count {
		return fmt.Errorf("expected %d messages, got %d", count, len(msgs))
	}
	return nil
}

func theConversationPreviewIs(preview string) error {
	conv, err := world.convRepo.Find(world.ctx, world.chatID)
	if err != nil {
		return err
	}
	if conv.LastMessage != preview {
		return fmt.Errorf("expected preview %q, got %q", preview, conv.LastMessage)
	}
	return nil
}

func theUnreadCountOfIs(uid string, count int) error {
	conv, err := world.convRepo.Find(world.ctx, world.chatID)
	if err != nil {
		return err
	}
	if conv.UnreadFor(uid) != int64(count) {
		return fmt.Errorf("expected unread %d for %s, got %d", count, uid, conv.UnreadFor(uid))
	}
	return nil
}

func opensTheConversation(name string) error {
	return world.openFor(name)
}

func repliesToTheLastMessage(name, text string) error {
	s, err := world.sessionOf(name)
	if err != nil {
		return err
	}
	msgs, err := world.messages()
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return fmt.Errorf("no message to reply to")
	}
	// watcher 還沒把訊息餵進 session 前 BeginReply 會找不到，重試到出現為止
	targetID := msgs[len(msgs)-1].ID
	deadline := time.Now().Add(2 * time.Second)
	for {
		err = s.BeginReply(targetID)
		if err == nil {
			break
		}
		if !errors.Is(err, apperr.ErrNotFound) || time.Now().After(deadline) {
			return err
		}
		time.Sleep(20 * time.Millisecond)
	}
	return s.Send(world.ctx, chatapp.SendInput{Text: text})
}

func editsTheFirstMessageTo(name, text string) error {
	s, err := world.sessionOf(name)
	if err != nil {
		return err
	}
	msgs, err := world.messages()
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return fmt.Errorf("no message to edit")
	}
	return s.Edit(world.ctx, msgs[0].ID, text)
}

func theReplyStillQuotes(text string) error {
	msgs, err := world.messages()
	if err != nil {
		return err
	}
	last := msgs[len(msgs)-1]
	if last.ReplyTo == nil {
		return fmt.Errorf("last message carries no quote")
	}
	if last.ReplyTo.Text != text {
		return fmt.Errorf("expected quote %q, got %q", text, last.ReplyTo.Text)
	}
	return nil
}

func deletesTheLastMessage(name string) error {
	s, err := world.sessionOf(name)
	if err != nil {
		return err
	}
	msgs, err := world.messages()
	if err != nil {
		return err
	}
	return s.Delete(world.ctx, msgs[len(msgs)-1].ID)
}

func theLastMessageIsATombstone() error {
	msgs, err := world.messages()
	if err != nil {
		return err
	}
	last := msgs[len(msgs)-1]
	if !last.Deleted || last.Text != chatdomain.Tombstone {
		return fmt.Errorf("expected a tombstone, got %+v", last)
	}
	return nil
}
