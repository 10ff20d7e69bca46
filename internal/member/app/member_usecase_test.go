package app

import (
	"context"
	"testing"
	"time"

	memberdomain "sirachat/internal/member/domain"
	"sirachat/pkg/apperr"
	"sirachat/pkg/logger"
	"sirachat/pkg/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMemberUseCase_SignIn(t *testing.T) {
	ctx := context.Background()
	logger.SetNewNop()

	t.Run("新名稱建立帳號並發出 token", func(t *testing.T) {
		mockRepo := new(MockUserRepo)
		sessions := newFakeSessionStore()
		uc := NewMemberUseCase(mockRepo, time.Hour, sessions)

		mockRepo.On("Find", ctx, "amir").Return(nil, apperr.ErrNotFound)
		mockRepo.On("Create", ctx, mock.MatchedBy(func(p *memberdomain.UserProfile) bool {
			return p.UID == "amir" && p.Username == "Amir" && p.Status == memberdomain.StatusOnline
		})).Return(nil)

		jwt, profile, err := uc.SignIn(ctx, "Amir")
		require.NoError(t, err)
		assert.Equal(t, "amir", profile.UID)

		claims, err := token.ParseJWT(jwt)
		require.NoError(t, err)
		assert.Equal(t, "amir", claims.UID)
		assert.Equal(t, "Amir", claims.Username)

		assert.True(t, sessions.has(memberdomain.SessionKey("amir")))
		mockRepo.AssertExpectations(t)
	})

	t.Run("同名同寫法直接重用帳號", func(t *testing.T) {
		mockRepo := new(MockUserRepo)
		sessions := newFakeSessionStore()
		uc := NewMemberUseCase(mockRepo, time.Hour, sessions)

		existing := &memberdomain.UserProfile{UID: "amir", Username: "Amir"}
		mockRepo.On("Find", ctx, "amir").Return(existing, nil)

		_, profile, err := uc.SignIn(ctx, "Amir")
		require.NoError(t, err)
		assert.Equal(t, "Amir", profile.Username)
		mockRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("同 uid 但顯示名稱不同被拒絕", func(t *testing.T) {
		mockRepo := new(MockUserRepo)
		sessions := newFakeSessionStore()
		uc := NewMemberUseCase(mockRepo, time.Hour, sessions)

		// "AMIR" 與 "Amir" 都導出 uid amir，但帳號屬於 Amir
		existing := &memberdomain.UserProfile{UID: "amir", Username: "Amir"}
		mockRepo.On("Find", ctx, "amir").Return(existing, nil)

		_, _, err := uc.SignIn(ctx, "AMIR")
		assert.ErrorIs(t, err, apperr.ErrValidation)
		assert.False(t, sessions.has(memberdomain.SessionKey("amir")))
	})

	t.Run("空名稱不會打到 repository", func(t *testing.T) {
		mockRepo := new(MockUserRepo)
		uc := NewMemberUseCase(mockRepo, time.Hour, newFakeSessionStore())

		_, _, err := uc.SignIn(ctx, "   ")
		assert.ErrorIs(t, err, apperr.ErrValidation)
		mockRepo.AssertNotCalled(t, "Find", mock.Anything, mock.Anything)
	})
}
