package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueRetrieval is the Redis list key for recording retrieval jobs that are ready to run.
	QueueRetrieval = "worker:retrieval"
	// QueueRetrievalDelayed is the sorted set of retrieval jobs scored by their run-at unix millis.
	QueueRetrievalDelayed = "worker:retrieval:delayed"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a failing job before moving to DLQ.
	MaxRetries = 3
	// MaxRequeues bounds how often a job that found nothing yet is rescheduled.
	MaxRequeues = 5
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeRecordingRetrieval JobType = "recording_retrieval"
)

// RetrievalPayload is the payload for recording retrieval jobs.
type RetrievalPayload struct {
	SessionID uuid.UUID `json:"session_id"`
	// Reason is "finalized" or "manual".
	Reason string `json:"reason"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	Requeues  int             `json:"requeues"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger, now: time.Now}
}

// EnqueueRetrieval schedules a retrieval job to become ready after delay.
func (q *Queue) EnqueueRetrieval(ctx context.Context, payload RetrievalPayload, delay time.Duration) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	job := &Job{
		ID:        uuid.New().String(),
		Type:      JobTypeRecordingRetrieval,
		Payload:   body,
		CreatedAt: q.now(),
	}
	if err := q.schedule(ctx, job, delay); err != nil {
		return err
	}
	q.logger.Debug("enqueued retrieval job",
		zap.String("job_id", job.ID),
		zap.String("session_id", payload.SessionID.String()),
		zap.Duration("delay", delay))
	return nil
}

func (q *Queue) schedule(ctx context.Context, job *Job, delay time.Duration) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if delay <= 0 {
		if err := q.client.RPush(ctx, QueueRetrieval, raw).Err(); err != nil {
			return fmt.Errorf("rpush: %w", err)
		}
		return nil
	}
	runAt := q.now().Add(delay).UnixMilli()
	if err := q.client.ZAdd(ctx, QueueRetrievalDelayed, redis.Z{Score: float64(runAt), Member: raw}).Err(); err != nil {
		return fmt.Errorf("zadd: %w", err)
	}
	return nil
}

// PromoteDue moves delayed jobs whose run-at has passed onto the ready list.
// Safe across workers: only the worker whose ZREM removes a member pushes it.
func (q *Queue) PromoteDue(ctx context.Context) (int, error) {
	max := strconv.FormatInt(q.now().UnixMilli(), 10)
	due, err := q.client.ZRangeByScore(ctx, QueueRetrievalDelayed, &redis.ZRangeBy{Min: "-inf", Max: max}).Result()
	if err != nil {
		return 0, fmt.Errorf("zrangebyscore: %w", err)
	}
	promoted := 0
	for _, member := range due {
		removed, err := q.client.ZRem(ctx, QueueRetrievalDelayed, member).Result()
		if err != nil {
			return promoted, fmt.Errorf("zrem: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := q.client.RPush(ctx, QueueRetrieval, member).Err(); err != nil {
			return promoted, fmt.Errorf("rpush: %w", err)
		}
		promoted++
	}
	return promoted, nil
}

// Dequeue blocks up to timeout for a ready job. Returns nil job on timeout.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, QueueRetrieval).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a failed job with incremented attempt after RetryBackoff.
// If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	if job.Attempt >= MaxRetries {
		raw, err := json.Marshal(job)
		if err != nil {
			return err
		}
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.schedule(ctx, job, RetryBackoff); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}

// Requeue reschedules a job that ran cleanly but has more work later, with a delay
// growing by requeue count. It reports false once MaxRequeues is reached.
func (q *Queue) Requeue(ctx context.Context, job *Job, base time.Duration) (bool, error) {
	if job.Requeues >= MaxRequeues {
		return false, nil
	}
	job.Requeues++
	if err := q.schedule(ctx, job, base*time.Duration(job.Requeues)); err != nil {
		return false, err
	}
	return true, nil
}

// DeadLetters returns up to n jobs from the dead-letter queue without removing them.
func (q *Queue) DeadLetters(ctx context.Context, n int64) ([]Job, error) {
	raws, err := q.client.LRange(ctx, QueueDLQ, 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(raws))
	for _, raw := range raws {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
