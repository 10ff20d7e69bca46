package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"sirachat/internal/backend"
	memberdomain "sirachat/internal/member/domain"
	"sirachat/internal/member/repository"
	"sirachat/pkg/apperr"
	"sirachat/pkg/database"
	"sirachat/pkg/logger"
)

// SessionEventKind definition session lifecycle event
type SessionEventKind string

const (
	// EventProfileUpdated own profile doc changed
	EventProfileUpdated SessionEventKind = "profile_updated"
	// EventSessionRevoked profile doc vanished underneath a live session
	EventSessionRevoked SessionEventKind = "session_revoked"
	// EventSessionEnded logout or account deletion completed
	EventSessionEnded SessionEventKind = "session_ended"
)

// SessionEvent pushed to the connection that owns the session
type SessionEvent struct {
	Kind    SessionEventKind
	Profile *memberdomain.UserProfile
}

// SessionContext one signed-in user's live session. Loads the persisted
// session record, keeps the own profile fresh, maintains presence, and
// tears everything down on logout or account deletion.
type SessionContext struct {
	uid        string
	userRepo   repository.UserRepository
	redisRepo  database.RedisRepository[memberdomain.SessionRecord]
	store      backend.DocumentStore
	blobs      backend.BlobStore
	sessionTTL time.Duration

	mu      sync.RWMutex
	profile memberdomain.UserProfile
	ended   bool

	events chan SessionEvent
	cancel context.CancelFunc
}

// NewSessionContext create an unstarted session context
func NewSessionContext(uid string,
	userRepo repository.UserRepository,
	redisRepo database.RedisRepository[memberdomain.SessionRecord],
	store backend.DocumentStore,
	blobs backend.BlobStore,
	sessionTTL time.Duration,
) *SessionContext {
	return &SessionContext{
		uid:        uid,
		userRepo:   userRepo,
		redisRepo:  redisRepo,
		store:      store,
		blobs:      blobs,
		sessionTTL: sessionTTL,
		events:     make(chan SessionEvent, 8),
	}
}

// Start restore the session from its record and begin watching the own
// profile. ErrNotAuthenticated when no record exists.
func (s *SessionContext) Start(ctx context.Context) error {
	record, err := s.redisRepo.Get(ctx, memberdomain.SessionKey(s.uid))
	if errors.Is(err, database.ErrRedisNil) {
		return apperr.ErrNotAuthenticated
	}
	if err != nil {
		return apperr.Wrap(apperr.ErrBackendUnavailable, err.Error())
	}
	s.profile = record.Profile

	watchCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	ch, err := s.userRepo.Watch(watchCtx, s.uid)
	if err != nil {
		cancel()
		return err
	}
	go s.watchProfile(watchCtx, ch)

	// 上線狀態是盡力而為，失敗不阻斷登入
	if err := s.userRepo.SetPresence(ctx, s.uid, memberdomain.StatusOnline); err != nil {
		logger.Log.Warnf("set presence online failed uid=%s: %v", s.uid, err)
	}
	return nil
}

func (s *SessionContext) watchProfile(ctx context.Context, ch <-chan repository.ProfileEvent) {
	for ev := range ch {
		if ev.Err != nil {
			logger.Log.Warnf("profile watch error uid=%s: %v", s.uid, ev.Err)
			continue
		}
		if !ev.Exists {
			// 帳號在其他地方被刪掉，立刻收回 session
			s.mu.Lock()
			alreadyEnded := s.ended
			s.ended = true
			s.mu.Unlock()
			if !alreadyEnded {
				if err := s.redisRepo.Del(ctx, memberdomain.SessionKey(s.uid)); err != nil && !errors.Is(err, database.ErrRedisNil) {
					logger.Log.Warnf("drop session record failed uid=%s: %v", s.uid, err)
				}
				s.emit(SessionEvent{Kind: EventSessionRevoked})
			}
			return
		}

		s.mu.Lock()
		s.profile = ev.Profile
		s.mu.Unlock()

		record := memberdomain.SessionRecord{UID: s.uid, Profile: ev.Profile, SignedInAt: time.Now()}
		if err := s.redisRepo.Set(ctx, memberdomain.SessionKey(s.uid), record, s.sessionTTL); err != nil {
			logger.Log.Warnf("refresh session record failed uid=%s: %v", s.uid, err)
		}

		p := ev.Profile
		s.emit(SessionEvent{Kind: EventProfileUpdated, Profile: &p})
	}
}

func (s *SessionContext) emit(ev SessionEvent) {
	select {
	case s.events <- ev:
	default:
		logger.Log.Warnf("session event dropped uid=%s kind=%s", s.uid, ev.Kind)
	}
}

// UID session owner
func (s *SessionContext) UID() string {
	return s.uid
}

// Profile current own profile snapshot
func (s *SessionContext) Profile() memberdomain.UserProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

// Events session lifecycle feed
func (s *SessionContext) Events() <-chan SessionEvent {
	return s.events
}

// UpdateUsername change the display name. The new name must map onto the
// same uid, otherwise it would claim a different identity.
func (s *SessionContext) UpdateUsername(ctx context.Context, username string) error {
	name, err := memberdomain.ValidateUsername(username)
	if err != nil {
		return err
	}
	if memberdomain.DeriveUID(name) != s.uid {
		return apperr.Wrap(apperr.ErrValidation, "new name maps to a different identity")
	}
	return s.userRepo.UpdateFields(ctx, s.uid, backend.Doc{"username": name})
}

// SetAvatar record an uploaded avatar url on the profile
func (s *SessionContext) SetAvatar(ctx context.Context, url string) error {
	return s.userRepo.UpdateFields(ctx, s.uid, backend.Doc{"avatar_url": url})
}

// Close connection went away without logout, session record stays so a
// reconnect restores the session
func (s *SessionContext) Close(ctx context.Context) {
	s.mu.Lock()
	ended := s.ended
	s.mu.Unlock()
	if !ended {
		if err := s.userRepo.SetPresence(ctx, s.uid, memberdomain.StatusOffline); err != nil {
			logger.Log.Warnf("set presence offline failed uid=%s: %v", s.uid, err)
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
}

// Logout drop the session record and go offline
func (s *SessionContext) Logout(ctx context.Context) error {
	if err := s.userRepo.SetPresence(ctx, s.uid, memberdomain.StatusOffline); err != nil {
		logger.Log.Warnf("set presence offline failed uid=%s: %v", s.uid, err)
	}
	if err := s.redisRepo.Del(ctx, memberdomain.SessionKey(s.uid)); err != nil && !errors.Is(err, database.ErrRedisNil) {
		return apperr.Wrap(apperr.ErrBackendUnavailable, err.Error())
	}

	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	s.emit(SessionEvent{Kind: EventSessionEnded})
	return nil
}

// DeleteAccount cascade delete: every message of every conversation the
// user belongs to, then the conversation docs, then the avatar blob, and
// the profile doc strictly last. A failure midway leaves the session
// intact so the user can retry.
func (s *SessionContext) DeleteAccount(ctx context.Context) error {
	convs, err := s.store.RunQuery(ctx, backend.Query{
		Collection: "conversations",
		Conds: []backend.Cond{
			{Field: "members", Op: backend.OpArrayContains, Value: s.uid},
		},
	})
	if err != nil {
		return apperr.Wrap(apperr.ErrBackendUnavailable, err.Error())
	}

	batch := s.store.Batch()
	for _, conv := range convs {
		msgs, err := s.store.RunQuery(ctx, backend.Query{
			Collection: conv.Path + "/messages",
		})
		if err != nil {
			return apperr.Wrap(apperr.ErrBackendUnavailable, err.Error())
		}
		for _, msg := range msgs {
			batch.Delete(msg.Path)
		}
		batch.Delete(conv.Path + "/typing_status/state")
		batch.Delete(conv.Path)
	}
	if err := batch.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.ErrBackendUnavailable, err.Error())
	}

	if err := s.blobs.Delete(ctx, memberdomain.AvatarObjectPath(s.uid)); err != nil {
		return apperr.Wrap(apperr.ErrUploadFailed, "avatar delete: "+err.Error())
	}

	// profile doc 最後刪，前面任何一步失敗都不會留下半個帳號。
	// 先標記 ended，免得自己的 profile watcher 把這次刪除當成被收回。
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	if err := s.userRepo.Delete(ctx, s.uid); err != nil {
		s.mu.Lock()
		s.ended = false
		s.mu.Unlock()
		return apperr.Wrap(apperr.ErrBackendUnavailable, err.Error())
	}

	if err := s.redisRepo.Del(ctx, memberdomain.SessionKey(s.uid)); err != nil && !errors.Is(err, database.ErrRedisNil) {
		logger.Log.Warnf("drop session record failed uid=%s: %v", s.uid, err)
	}

	s.emit(SessionEvent{Kind: EventSessionEnded})
	logger.Log.Infof("account deleted uid=%s", s.uid)
	return nil
}
