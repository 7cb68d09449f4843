package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutorlive/backend/internal/models"
)

func TestJWTService(t *testing.T) {
	svc := NewJWTService("secret", 1)
	userID := uuid.New()

	t.Run("round trip", func(t *testing.T) {
		tok, err := svc.Generate(userID, "tutor@example.com", models.RoleTutor)
		require.NoError(t, err)

		claims, err := svc.Validate(tok)
		require.NoError(t, err)
		assert.Equal(t, userID, claims.UserID)
		assert.Equal(t, models.RoleTutor, claims.Role)
	})

	t.Run("wrong secret", func(t *testing.T) {
		tok, err := NewJWTService("other", 1).Generate(userID, "", models.RoleLearner)
		require.NoError(t, err)
		_, err = svc.Validate(tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		old := NewJWTService("secret", 1)
		old.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		tok, err := old.Generate(userID, "", models.RoleLearner)
		require.NoError(t, err)
		_, err = svc.Validate(tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.Validate("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
