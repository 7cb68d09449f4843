package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tutorlive/backend/internal/models"
	"github.com/tutorlive/backend/internal/notify"
	"github.com/tutorlive/backend/pkg/queue"
)

// Outcome is the result of a Finalize call.
type Outcome int

const (
	// Finalized means this call performed the live → ended transition.
	Finalized Outcome = iota + 1
	// AlreadyFinalized means the session was not live; nothing was done.
	AlreadyFinalized
)

func (o Outcome) String() string {
	switch o {
	case Finalized:
		return "finalized"
	case AlreadyFinalized:
		return "already_finalized"
	default:
		return "unknown"
	}
}

// Ender performs the guarded end write. It returns nil when the session was not live.
type Ender interface {
	End(ctx context.Context, id uuid.UUID, at time.Time) (*models.Session, error)
}

// ClassStatusWriter maintains the companion class record.
type ClassStatusWriter interface {
	MarkLive(ctx context.Context, classID uuid.UUID, at time.Time) error
	MarkCompleted(ctx context.Context, classID uuid.UUID, at time.Time) error
}

// RetrievalScheduler schedules a delayed recording retrieval.
type RetrievalScheduler interface {
	EnqueueRetrieval(ctx context.Context, payload queue.RetrievalPayload, delay time.Duration) error
}

// AgentStopper tells the recording agent of a session to stop, wherever it runs.
type AgentStopper interface {
	StopAgent(ctx context.Context, sessionID uuid.UUID) error
}

// sideEffectTimeout bounds post-finalize work that runs detached from the caller.
const sideEffectTimeout = time.Minute

// Finalizer ends sessions exactly once no matter how many callers race.
// The conditional write in Ender is the only serialization point.
type Finalizer struct {
	store          Ender
	classes        ClassStatusWriter
	notifier       notify.Dispatcher
	retrieval      RetrievalScheduler
	agents         AgentStopper
	retrievalDelay time.Duration
	now            func() time.Time
	logger         *zap.Logger
	wg             sync.WaitGroup
}

// FinalizerOption configures optional collaborators.
type FinalizerOption func(*Finalizer)

// WithAgentStopper sets where the stop signal goes.
func WithAgentStopper(s AgentStopper) FinalizerOption {
	return func(f *Finalizer) { f.agents = s }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) FinalizerOption {
	return func(f *Finalizer) { f.now = now }
}

// NewFinalizer creates a finalizer.
func NewFinalizer(store Ender, classes ClassStatusWriter, notifier notify.Dispatcher, retrieval RetrievalScheduler, retrievalDelay time.Duration, logger *zap.Logger, opts ...FinalizerOption) *Finalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Finalizer{
		store:          store,
		classes:        classes,
		notifier:       notifier,
		retrieval:      retrieval,
		retrievalDelay: retrievalDelay,
		now:            time.Now,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Finalize ends a live session. Safe to call concurrently and redundantly:
// exactly one caller gets Finalized, the rest get AlreadyFinalized.
func (f *Finalizer) Finalize(ctx context.Context, sessionID uuid.UUID) (Outcome, error) {
	s, err := f.store.End(ctx, sessionID, f.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("end session: %w", err)
	}
	if s == nil {
		return AlreadyFinalized, nil
	}
	f.logger.Info("session finalized",
		zap.String("session_id", s.ID.String()),
		zap.String("class_id", s.ClassID.String()),
		zap.Duration("elapsed", s.Elapsed(f.now())))

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
		defer cancel()
		f.afterEnd(sctx, s)
	}()
	return Finalized, nil
}

// Wait blocks until side effects of every Finalize so far have run.
func (f *Finalizer) Wait() {
	f.wg.Wait()
}

func (f *Finalizer) afterEnd(ctx context.Context, s *models.Session) {
	log := f.logger.With(zap.String("session_id", s.ID.String()))

	if err := f.classes.MarkCompleted(ctx, s.ClassID, *s.EndTime); err != nil {
		log.Warn("companion class record update failed", zap.Error(err))
	}

	ev := notify.Event{
		Type:      notify.TypeSessionEnded,
		Title:     "Class ended",
		Message:   "The live class has ended. The replay will be available shortly.",
		SessionID: s.ID,
		ClassID:   s.ClassID,
	}
	sent := notify.Fanout(ctx, f.notifier, log, s.NotifySet(), ev)
	tutorEv := ev
	tutorEv.Message = "Your live class has ended. We are processing the recording."
	if err := f.notifier.Emit(ctx, s.TutorID, tutorEv); err != nil {
		log.Warn("tutor notification failed", zap.Error(err))
	} else {
		sent++
	}

	payload := queue.RetrievalPayload{SessionID: s.ID, Reason: "finalized"}
	if err := f.retrieval.EnqueueRetrieval(ctx, payload, f.retrievalDelay); err != nil {
		log.Error("schedule recording retrieval failed", zap.Error(err))
	}

	if f.agents != nil {
		if err := f.agents.StopAgent(ctx, s.ID); err != nil {
			log.Warn("agent stop signal failed", zap.Error(err))
		}
	}
	log.Debug("finalize side effects done", zap.Int("notified", sent))
}
