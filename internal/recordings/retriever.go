package recordings

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tutorlive/backend/internal/models"
	"github.com/tutorlive/backend/internal/sessions"
	"github.com/tutorlive/backend/pkg/storage"
)

// Status is the outcome of a retrieval run.
type Status string

const (
	Found       Status = "found"
	NotFoundYet Status = "not_found_yet"
)

// Result is what a retrieval run produced.
type Result struct {
	Status Status
	URL    string
	Replay *models.Replay
}

// Searcher finds recordings in storage.
type Searcher interface {
	SearchByName(ctx context.Context, pattern string) ([]storage.File, error)
	SearchByTimeWindow(ctx context.Context, from, to time.Time, sessionID string) ([]storage.File, error)
}

// SessionGetter loads sessions.
type SessionGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
}

// Waiter sleeps for d or until ctx is done.
type Waiter func(ctx context.Context, d time.Duration) error

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retriever locates the recording of an ended session and publishes it.
type Retriever struct {
	files     Searcher
	sessions  SessionGetter
	publisher *Publisher
	backoff   []time.Duration
	padding   time.Duration
	wait      Waiter
	now       func() time.Time
	logger    *zap.Logger
}

// NewRetriever creates a retriever that tries once per backoff entry.
func NewRetriever(files Searcher, sessions SessionGetter, publisher *Publisher, backoff []time.Duration, padding time.Duration, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		files:     files,
		sessions:  sessions,
		publisher: publisher,
		backoff:   backoff,
		padding:   padding,
		wait:      sleep,
		now:       time.Now,
		logger:    logger.Named("retrieval"),
	}
}

// Retrieve searches for the session's recording on the backoff schedule.
// Not finding it is NotFoundYet, not an error, and leaves the session untouched.
func (r *Retriever) Retrieve(ctx context.Context, sessionID uuid.UUID) (Result, error) {
	s, err := r.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return Result{}, fmt.Errorf("load session: %w", err)
	}
	if s == nil {
		return Result{}, sessions.ErrSessionNotFound
	}
	log := r.logger.With(zap.String("session_id", s.ID.String()))

	for i, delay := range r.backoff {
		if delay > 0 {
			if err := r.wait(ctx, delay); err != nil {
				return Result{Status: NotFoundYet}, err
			}
		}
		f, ok := r.find(ctx, log, s)
		if !ok {
			log.Debug("recording not in storage yet", zap.Int("attempt", i+1))
			continue
		}
		rp, err := r.publisher.Publish(ctx, s, f)
		if err != nil {
			return Result{}, err
		}
		log.Info("recording retrieved", zap.String("file_id", f.ID), zap.Int("attempt", i+1))
		return Result{Status: Found, URL: rp.StorageURL, Replay: rp}, nil
	}
	log.Info("recording still processing", zap.Int("attempts", len(r.backoff)))
	return Result{Status: NotFoundYet}, nil
}

// find prefers a file named after the session and falls back to the
// session's time window.
func (r *Retriever) find(ctx context.Context, log *zap.Logger, s *models.Session) (storage.File, bool) {
	byName, err := r.files.SearchByName(ctx, s.ID.String())
	if err != nil {
		log.Warn("search by name failed", zap.Error(err))
	} else if len(byName) > 0 {
		return byName[0], true
	}

	end := r.now()
	if s.EndTime != nil {
		end = *s.EndTime
	}
	byWindow, err := r.files.SearchByTimeWindow(ctx, s.StartTime.Add(-r.padding), end.Add(r.padding), s.ID.String())
	if err != nil {
		log.Warn("search by window failed", zap.Error(err))
		return storage.File{}, false
	}
	if len(byWindow) == 0 {
		return storage.File{}, false
	}
	return byWindow[0], true
}
