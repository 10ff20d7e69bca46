package app

import (
	"context"
	"errors"
	"time"

	memberdomain "sirachat/internal/member/domain"
	"sirachat/internal/member/repository"
	"sirachat/pkg/apperr"
	"sirachat/pkg/database"
	"sirachat/pkg/logger"
	"sirachat/pkg/token"
)

// MemberUseCase 這裡封裝了對外提供的應用服務
type MemberUseCase interface {
	SignIn(ctx context.Context, username string) (string, *memberdomain.UserProfile, error)
	FindProfile(ctx context.Context, uid string) (*memberdomain.UserProfile, error)
}

type memberUseCase struct {
	userRepo   repository.UserRepository
	sessionTTL time.Duration
	redisRepo  database.RedisRepository[memberdomain.SessionRecord]
}

// NewMemberUseCase 建立一個新的 MemberUseCase
func NewMemberUseCase(userRepo repository.UserRepository,
	sessionTTL time.Duration,
	redisRepo database.RedisRepository[memberdomain.SessionRecord],
) MemberUseCase {
	return &memberUseCase{
		userRepo:   userRepo,
		sessionTTL: sessionTTL,
		redisRepo:  redisRepo,
	}
}

// SignIn name-only sign in. The uid is derived from the name, an existing
// profile with the same uid but a different stored display name is someone
// else's and gets rejected.
func (m *memberUseCase) SignIn(ctx context.Context, username string) (string, *memberdomain.UserProfile, error) {
	name, err := memberdomain.ValidateUsername(username)
	if err != nil {
		return "", nil, err
	}
	uid := memberdomain.DeriveUID(name)

	profile, err := m.userRepo.Find(ctx, uid)
	switch {
	case err == nil:
		if profile.Username != name {
			return "", nil, apperr.Wrap(apperr.ErrValidation, "username already taken: "+profile.Username)
		}
	case errors.Is(err, apperr.ErrNotFound):
		profile = &memberdomain.UserProfile{
			UID:      uid,
			Username: name,
			Status:   memberdomain.StatusOnline,
		}
		if err := m.userRepo.Create(ctx, profile); err != nil {
			return "", nil, err
		}
	default:
		return "", nil, err
	}

	record := memberdomain.SessionRecord{
		UID:        uid,
		Profile:    *profile,
		SignedInAt: time.Now(),
	}
	if err := m.redisRepo.Set(ctx, memberdomain.SessionKey(uid), record, m.sessionTTL); err != nil {
		return "", nil, apperr.Wrap(apperr.ErrBackendUnavailable, err.Error())
	}

	jwt, err := token.GenerateJWT(uid, name, "sirachat")
	if err != nil {
		return "", nil, err
	}

	logger.Log.Infof("member signed in uid=%s", uid)
	return jwt, profile, nil
}

// FindProfile 用 uid 來尋找使用者
func (m *memberUseCase) FindProfile(ctx context.Context, uid string) (*memberdomain.UserProfile, error) {
	return m.userRepo.Find(ctx, uid)
}
