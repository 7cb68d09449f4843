package detector

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tutorlive/backend/internal/sessions"
)

// DurationDetector ends sessions that outlive their ceiling. It needs no
// external API, so it is the safety net when the calendar is unreachable.
type DurationDetector struct {
	sessions  SessionLister
	finalizer Finalizer
	ceilings  Ceilings
	now       func() time.Time
	logger    *zap.Logger
}

// NewDurationDetector creates a duration detector.
func NewDurationDetector(lister SessionLister, finalizer Finalizer, ceilings Ceilings, logger *zap.Logger) *DurationDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DurationDetector{sessions: lister, finalizer: finalizer, ceilings: ceilings, now: time.Now, logger: logger.Named("duration_detector")}
}

// Name identifies the job in logs.
func (d *DurationDetector) Name() string { return "duration_detector" }

// Tick checks every live session once and returns how many this tick finalized.
func (d *DurationDetector) Tick(ctx context.Context) (int, error) {
	live, err := d.sessions.ListLive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list live sessions: %w", err)
	}
	now := d.now()
	finalized := 0
	for i := range live {
		s := &live[i]
		if !d.ceilings.Exceeded(s, now) {
			continue
		}
		out, err := d.finalizer.Finalize(ctx, s.ID)
		if err != nil {
			d.logger.Error("finalize failed", zap.String("session_id", s.ID.String()), zap.Error(err))
			continue
		}
		if out == sessions.Finalized {
			finalized++
			d.logger.Info("session exceeded ceiling",
				zap.String("session_id", s.ID.String()),
				zap.String("reason", ReasonCeiling),
				zap.Duration("elapsed", s.Elapsed(now)),
				zap.Duration("ceiling", d.ceilings.For(s)))
		}
	}
	return finalized, nil
}
