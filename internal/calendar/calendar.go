// Package calendar wraps the calendar/meeting vendor used to schedule and track live sessions.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tutorlive/backend/internal/models"
)

var (
	// ErrEventNotFound means the event was deleted or never existed.
	ErrEventNotFound = errors.New("calendar event not found")
	// ErrUnauthorized means the vendor rejected the access token.
	ErrUnauthorized = errors.New("calendar credential rejected")
	// ErrTokenUnavailable means no usable credential could be obtained for the tutor.
	ErrTokenUnavailable = errors.New("calendar credential unavailable")
)

// StatusCancelled is the vendor status of a cancelled event.
const StatusCancelled = "cancelled"

// Event is the subset of a calendar event the lifecycle manager reads.
type Event struct {
	ID         string
	Status     string
	Start      time.Time
	End        time.Time
	MeetingURL string
}

// Cancelled reports whether the organizer cancelled the event.
func (e *Event) Cancelled() bool {
	return e.Status == StatusCancelled
}

// MeetingRequest describes a meeting to schedule.
type MeetingRequest struct {
	Title       string
	Description string
	Start       time.Time
	End         time.Time
}

// Meeting is a scheduled event with a conferencing link.
type Meeting struct {
	EventID    string
	MeetingURL string
	Start      time.Time
	End        time.Time
}

// API is the vendor surface, called with a bearer access token.
type API interface {
	GetEvent(ctx context.Context, accessToken, eventID string) (*Event, error)
	DeleteEvent(ctx context.Context, accessToken, eventID string) error
	CreateMeeting(ctx context.Context, accessToken string, req MeetingRequest) (*Meeting, error)
}

// TokenProvider hands out a tutor's current credential.
type TokenProvider interface {
	Valid(ctx context.Context, ownerID uuid.UUID) (*models.TokenSet, error)
	ForceRefresh(ctx context.Context, ownerID uuid.UUID) (*models.TokenSet, error)
}

// TutorCalendar calls the vendor on behalf of a tutor. A rejected token is
// refreshed and the call retried once.
type TutorCalendar struct {
	api    API
	tokens TokenProvider
	logger *zap.Logger
}

// NewTutorCalendar creates a tutor-scoped calendar.
func NewTutorCalendar(api API, tokens TokenProvider, logger *zap.Logger) *TutorCalendar {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TutorCalendar{api: api, tokens: tokens, logger: logger}
}

func (c *TutorCalendar) do(ctx context.Context, tutorID uuid.UUID, call func(accessToken string) error) error {
	ts, err := c.tokens.Valid(ctx, tutorID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTokenUnavailable, err)
	}
	err = call(ts.AccessToken)
	if !errors.Is(err, ErrUnauthorized) {
		return err
	}
	c.logger.Info("calendar rejected access token, refreshing", zap.String("tutor_id", tutorID.String()))
	ts, err = c.tokens.ForceRefresh(ctx, tutorID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTokenUnavailable, err)
	}
	return call(ts.AccessToken)
}

// GetEvent fetches an event from the tutor's calendar.
func (c *TutorCalendar) GetEvent(ctx context.Context, tutorID uuid.UUID, eventID string) (*Event, error) {
	var ev *Event
	err := c.do(ctx, tutorID, func(tok string) error {
		var err error
		ev, err = c.api.GetEvent(ctx, tok, eventID)
		return err
	})
	return ev, err
}

// DeleteEvent removes an event from the tutor's calendar. A missing event is not an error.
func (c *TutorCalendar) DeleteEvent(ctx context.Context, tutorID uuid.UUID, eventID string) error {
	err := c.do(ctx, tutorID, func(tok string) error {
		return c.api.DeleteEvent(ctx, tok, eventID)
	})
	if errors.Is(err, ErrEventNotFound) {
		return nil
	}
	return err
}

// CreateMeeting schedules a meeting with a conferencing link on the tutor's calendar.
func (c *TutorCalendar) CreateMeeting(ctx context.Context, tutorID uuid.UUID, req MeetingRequest) (*Meeting, error) {
	var m *Meeting
	err := c.do(ctx, tutorID, func(tok string) error {
		var err error
		m, err = c.api.CreateMeeting(ctx, tok, req)
		return err
	})
	return m, err
}
