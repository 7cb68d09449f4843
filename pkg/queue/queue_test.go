package queue

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestQueue connects to REDIS_ADDR (default localhost:6379) on DB 15 and skips when unreachable.
func newTestQueue(t *testing.T) (*Queue, *time.Time) {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}
	require.NoError(t, client.Del(context.Background(), QueueRetrieval, QueueRetrievalDelayed, QueueDLQ).Err())
	t.Cleanup(func() {
		client.Del(context.Background(), QueueRetrieval, QueueRetrievalDelayed, QueueDLQ)
		client.Close()
	})

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	q := NewQueue(client, nil)
	q.now = func() time.Time { return now }
	return q, &now
}

func TestEnqueueRetrieval(t *testing.T) {
	ctx := context.Background()

	t.Run("immediate job is ready", func(t *testing.T) {
		q, _ := newTestQueue(t)
		sid := uuid.New()
		require.NoError(t, q.EnqueueRetrieval(ctx, RetrievalPayload{SessionID: sid, Reason: "manual"}, 0))

		job, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, JobTypeRecordingRetrieval, job.Type)

		var p RetrievalPayload
		require.NoError(t, json.Unmarshal(job.Payload, &p))
		assert.Equal(t, sid, p.SessionID)
	})

	t.Run("delayed job waits until promoted", func(t *testing.T) {
		q, now := newTestQueue(t)
		require.NoError(t, q.EnqueueRetrieval(ctx, RetrievalPayload{SessionID: uuid.New()}, 30*time.Second))

		n, err := q.PromoteDue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		*now = now.Add(31 * time.Second)
		n, err = q.PromoteDue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		job, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		assert.NotNil(t, job)
	})
}

func TestRetry(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	job := &Job{ID: "j1", Type: JobTypeRecordingRetrieval, Attempt: MaxRetries - 1}

	require.NoError(t, q.Retry(ctx, job))

	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "j1", dead[0].ID)
	assert.Equal(t, MaxRetries, dead[0].Attempt)
}

func TestRequeue(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	job := &Job{ID: "j2", Type: JobTypeRecordingRetrieval}

	for i := 0; i < MaxRequeues; i++ {
		ok, err := q.Requeue(ctx, job, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := q.Requeue(ctx, job, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, MaxRequeues, job.Requeues)
}
