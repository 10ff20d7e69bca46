package domain

import (
	"strings"
	"testing"

	"sirachat/pkg/apperr"
	"sirachat/pkg/logger"

	"github.com/stretchr/testify/assert"
)

func TestDeriveUID(t *testing.T) {
	logger.SetNewNop()

	assert.Equal(t, "amir", DeriveUID("Amir"))
	assert.Equal(t, "amir_wijaya", DeriveUID("Amir Wijaya"))
	// 連續空白收斂成一個底線
	assert.Equal(t, "amir_wijaya", DeriveUID("  Amir   Wijaya  "))
}

func TestValidateUsername(t *testing.T) {
	logger.SetNewNop()

	t.Run("去頭尾空白", func(t *testing.T) {
		name, err := ValidateUsername("  Amir ")
		assert.NoError(t, err)
		assert.Equal(t, "Amir", name)
	})

	t.Run("空名稱被拒絕", func(t *testing.T) {
		_, err := ValidateUsername("   ")
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})

	t.Run("過長名稱被拒絕", func(t *testing.T) {
		_, err := ValidateUsername(strings.Repeat("a", MaxUsernameLen+1))
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})
}
