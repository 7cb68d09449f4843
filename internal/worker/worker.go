package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tutorlive/backend/internal/recordings"
	"github.com/tutorlive/backend/internal/sessions"
	"github.com/tutorlive/backend/pkg/queue"
)

// Retriever runs one retrieval pass for a session.
type Retriever interface {
	Retrieve(ctx context.Context, sessionID uuid.UUID) (recordings.Result, error)
}

// JobQueue is the queue surface the processor needs.
type JobQueue interface {
	PromoteDue(ctx context.Context) (int, error)
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
	Requeue(ctx context.Context, job *queue.Job, base time.Duration) (bool, error)
}

// dequeueTimeout bounds each blocking pop so due jobs get promoted regularly.
const dequeueTimeout = 2 * time.Second

// RetrievalProcessor processes recording retrieval jobs: search storage, publish the replay,
// reschedule when the recording is not there yet.
type RetrievalProcessor struct {
	retriever   Retriever
	queue       JobQueue
	requeueBase time.Duration
	logger      *zap.Logger
}

// NewRetrievalProcessor creates a retrieval processor. requeueBase is the first
// reschedule delay after a NotFoundYet pass; later ones grow linearly.
func NewRetrievalProcessor(retriever Retriever, q JobQueue, requeueBase time.Duration, logger *zap.Logger) *RetrievalProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetrievalProcessor{retriever: retriever, queue: q, requeueBase: requeueBase, logger: logger}
}

// Process executes one retrieval job.
func (p *RetrievalProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeRecordingRetrieval {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.RetrievalPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	log := p.logger.With(zap.String("job_id", job.ID), zap.String("session_id", payload.SessionID.String()))

	res, err := p.retriever.Retrieve(ctx, payload.SessionID)
	if errors.Is(err, sessions.ErrSessionNotFound) {
		log.Warn("retrieval for unknown session dropped")
		return nil
	}
	if err != nil {
		return err
	}
	if res.Status == recordings.Found {
		log.Info("recording published", zap.String("url", res.URL), zap.String("reason", payload.Reason))
		return nil
	}

	again, err := p.queue.Requeue(ctx, job, p.requeueBase)
	if err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	if again {
		log.Info("recording not found yet, rescheduled", zap.Int("requeues", job.Requeues))
	} else {
		log.Warn("recording still processing, giving up", zap.Int("requeues", job.Requeues))
	}
	return nil
}

// Run starts the worker loop: promote due jobs, dequeue, process, retry on error.
func (p *RetrievalProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("retrieval worker stopping")
			return
		default:
		}

		if n, err := p.queue.PromoteDue(ctx); err != nil {
			p.logger.Warn("promote due jobs failed", zap.Error(err))
		} else if n > 0 {
			p.logger.Debug("promoted due jobs", zap.Int("count", n))
		}

		job, err := p.queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			sleep(ctx, queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(context.WithoutCancel(ctx), job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
