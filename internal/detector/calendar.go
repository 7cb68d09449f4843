package detector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tutorlive/backend/internal/calendar"
	"github.com/tutorlive/backend/internal/models"
	"github.com/tutorlive/backend/internal/sessions"
)

// EventSource fetches a tutor's calendar event, refreshing credentials as needed.
type EventSource interface {
	GetEvent(ctx context.Context, tutorID uuid.UUID, eventID string) (*calendar.Event, error)
}

// CalendarDetector ends calendar-tracked sessions whose event ended, was
// cancelled or deleted, or that ran past the safety ceiling.
type CalendarDetector struct {
	sessions  SessionLister
	finalizer Finalizer
	events    EventSource
	safety    time.Duration
	limiter   *rate.Limiter
	now       func() time.Time
	logger    *zap.Logger

	// next is where the following tick resumes when a tick runs out of rate budget.
	mu   sync.Mutex
	next int
}

// NewCalendarDetector creates a calendar detector. rps bounds vendor calls per second; zero means unbounded.
func NewCalendarDetector(lister SessionLister, finalizer Finalizer, events EventSource, safety time.Duration, rps float64, logger *zap.Logger) *CalendarDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	return &CalendarDetector{
		sessions:  lister,
		finalizer: finalizer,
		events:    events,
		safety:    safety,
		limiter:   rate.NewLimiter(limit, burst),
		now:       time.Now,
		logger:    logger.Named("calendar_detector"),
	}
}

// Name identifies the job in logs.
func (d *CalendarDetector) Name() string { return "calendar_detector" }

// Tick checks calendar-tracked live sessions and returns how many this tick
// finalized. When the tick's deadline leaves no rate budget for the rest, the
// next tick starts with the sessions this one did not reach.
func (d *CalendarDetector) Tick(ctx context.Context) (int, error) {
	live, err := d.sessions.ListLive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list live sessions: %w", err)
	}
	tracked := make([]*models.Session, 0, len(live))
	for i := range live {
		if live[i].CalendarTracked() {
			tracked = append(tracked, &live[i])
		}
	}
	if len(tracked) == 0 {
		return 0, nil
	}

	d.mu.Lock()
	start := d.next % len(tracked)
	d.mu.Unlock()

	finalized, checked := 0, 0
	for ; checked < len(tracked); checked++ {
		if err := d.limiter.Wait(ctx); err != nil {
			d.logger.Warn("calendar rate budget exhausted, resuming next tick",
				zap.Int("checked", checked), zap.Int("tracked", len(tracked)), zap.Error(err))
			break
		}
		if d.check(ctx, tracked[(start+checked)%len(tracked)]) {
			finalized++
		}
	}

	d.mu.Lock()
	if checked < len(tracked) {
		// Finalized sessions drop out of the next listing, which shifts the rest left.
		d.next = start + checked - finalized
	} else {
		d.next = 0
	}
	d.mu.Unlock()
	return finalized, nil
}

func (d *CalendarDetector) check(ctx context.Context, s *models.Session) bool {
	log := d.logger.With(zap.String("session_id", s.ID.String()), zap.String("event_id", s.CalendarEventID))

	ev, err := d.events.GetEvent(ctx, s.TutorID, s.CalendarEventID)
	now := d.now()
	if errors.Is(err, calendar.ErrTokenUnavailable) {
		log.Warn("no usable calendar credential, skipping", zap.Error(err))
		return false
	}
	reason, ended := d.decide(s, ev, err, now)
	if err != nil && !ended && !errors.Is(err, calendar.ErrEventNotFound) {
		log.Warn("calendar fetch failed", zap.Error(err))
	}
	if !ended {
		return false
	}

	out, err := d.finalizer.Finalize(ctx, s.ID)
	if err != nil {
		log.Error("finalize failed", zap.Error(err))
		return false
	}
	if out != sessions.Finalized {
		return false
	}
	log.Info("calendar reports session ended", zap.String("reason", reason), zap.Duration("elapsed", s.Elapsed(now)))
	return true
}

// decide maps one calendar observation to an end decision.
func (d *CalendarDetector) decide(s *models.Session, ev *calendar.Event, fetchErr error, now time.Time) (string, bool) {
	overCeiling := s.Elapsed(now) > d.safety
	switch {
	case errors.Is(fetchErr, calendar.ErrEventNotFound):
		return ReasonEventDeleted, true
	case fetchErr != nil:
		// Transient; only the hard ceiling can end the session without the calendar.
		return ReasonSafetyCeiling, overCeiling
	case ev == nil:
		return ReasonEventDeleted, true
	case ev.Cancelled():
		return ReasonCancelled, true
	case !ev.End.IsZero() && now.After(ev.End):
		return ReasonEventEnded, true
	case overCeiling:
		return ReasonSafetyCeiling, true
	}
	return "", false
}
