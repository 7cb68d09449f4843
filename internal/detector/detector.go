// Package detector decides when live sessions have ended. The calendar and
// duration detectors run on independent schedules and only ever end a session
// through the shared finalizer.
package detector

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tutorlive/backend/internal/models"
	"github.com/tutorlive/backend/internal/sessions"
)

// SessionLister lists sessions that are still live.
type SessionLister interface {
	ListLive(ctx context.Context) ([]models.Session, error)
}

// Finalizer is the guarded end transition.
type Finalizer interface {
	Finalize(ctx context.Context, sessionID uuid.UUID) (sessions.Outcome, error)
}

// Ceilings are the hard session length limits.
type Ceilings struct {
	// Adhoc applies to sessions without calendar tracking.
	Adhoc time.Duration
	// Safety applies to every session.
	Safety time.Duration
}

// For returns the ceiling that applies to s.
func (c Ceilings) For(s *models.Session) time.Duration {
	if !s.CalendarTracked() && c.Adhoc < c.Safety {
		return c.Adhoc
	}
	return c.Safety
}

// Exceeded reports whether s has run strictly longer than its ceiling at now.
func (c Ceilings) Exceeded(s *models.Session, now time.Time) bool {
	return s.Elapsed(now) > c.For(s)
}

// Reasons a detector ends a session.
const (
	ReasonCeiling       = "ceiling"
	ReasonSafetyCeiling = "safety_ceiling"
	ReasonEventDeleted  = "event_deleted"
	ReasonCancelled     = "event_cancelled"
	ReasonEventEnded    = "event_ended"
)
