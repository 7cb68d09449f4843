package classes

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tutorlive/backend/internal/models"
	"github.com/tutorlive/backend/pkg/database"
)

// newTestRepository connects to TEST_DATABASE_URL, applies migrations and skips when unset or unreachable.
func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := database.NewPostgresPool(ctx, dsn, database.PoolOptions{ConnectAttempts: 1}, nil)
	if err != nil {
		t.Skipf("postgres not reachable: %v", err)
	}
	t.Cleanup(pool.Close)
	require.NoError(t, database.Migrate(ctx, pool, zap.NewNop()))
	return NewRepository(pool)
}

func TestMarkCompletedDoesNotOverrideNewerLiveSession(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()
	classID := uuid.New()
	start1 := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	end1 := start1.Add(time.Hour)
	start2 := end1.Add(time.Minute)

	require.NoError(t, r.MarkLive(ctx, classID, start1))
	require.NoError(t, r.MarkLive(ctx, classID, start2))
	// The first session's completion lands after the second session went live.
	require.NoError(t, r.MarkCompleted(ctx, classID, end1))

	st, err := r.GetStatus(ctx, classID)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, models.ClassStatusLive, st.Status)
	assert.Nil(t, st.EndedAt)

	end2 := start2.Add(time.Hour)
	require.NoError(t, r.MarkCompleted(ctx, classID, end2))
	st, err = r.GetStatus(ctx, classID)
	require.NoError(t, err)
	assert.Equal(t, models.ClassStatusCompleted, st.Status)
	require.NotNil(t, st.EndedAt)
	assert.True(t, end2.Equal(*st.EndedAt))
}

func TestMarkCompletedWithoutPriorRecord(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()
	classID := uuid.New()
	at := time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC)

	require.NoError(t, r.MarkCompleted(ctx, classID, at))
	st, err := r.GetStatus(ctx, classID)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, models.ClassStatusCompleted, st.Status)
}
