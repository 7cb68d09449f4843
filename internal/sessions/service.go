package sessions

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tutorlive/backend/internal/calendar"
	"github.com/tutorlive/backend/internal/models"
	"github.com/tutorlive/backend/internal/notify"
)

// Store is the session persistence used by the service.
type Store interface {
	Ender
	Create(ctx context.Context, s *models.Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	GetLiveByClass(ctx context.Context, classID uuid.UUID) (*models.Session, error)
	GetLastEndedByClass(ctx context.Context, classID uuid.UUID, since time.Time) (*models.Session, error)
}

// Roster reads class ownership and enrollment.
type Roster interface {
	TutorID(ctx context.Context, classID uuid.UUID) (uuid.UUID, error)
	Title(ctx context.Context, classID uuid.UUID) (string, error)
	EnrolledLearners(ctx context.Context, classID uuid.UUID) ([]uuid.UUID, error)
}

// Meetings schedules and removes vendor meetings on the tutor's calendar.
type Meetings interface {
	CreateMeeting(ctx context.Context, tutorID uuid.UUID, req calendar.MeetingRequest) (*calendar.Meeting, error)
	DeleteEvent(ctx context.Context, tutorID uuid.UUID, eventID string) error
}

// AgentStarter launches the recording agent for a new session.
type AgentStarter interface {
	Start(ctx context.Context, s *models.Session) error
}

// Actor is the authenticated caller of a service operation.
type Actor struct {
	ID   uuid.UUID
	Role models.Role
}

// ServiceConfig holds service timings.
type ServiceConfig struct {
	// RecentWindow is how long after ending a session is reported as recently completed.
	RecentWindow time.Duration
	// MeetingLength is the scheduled length of meetings the service creates.
	MeetingLength time.Duration
}

// Service implements the session operations exposed over HTTP.
type Service struct {
	store     Store
	roster    Roster
	classes   ClassStatusWriter
	finalizer *Finalizer
	meetings  Meetings
	agents    AgentStarter
	notifier  notify.Dispatcher
	cfg       ServiceConfig
	now       func() time.Time
	logger    *zap.Logger
	wg        sync.WaitGroup
}

// NewService creates the session service. meetings and agents may be nil.
func NewService(store Store, roster Roster, classes ClassStatusWriter, finalizer *Finalizer, meetings Meetings, agents AgentStarter, notifier notify.Dispatcher, cfg ServiceConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MeetingLength <= 0 {
		cfg.MeetingLength = time.Hour
	}
	return &Service{
		store:     store,
		roster:    roster,
		classes:   classes,
		finalizer: finalizer,
		meetings:  meetings,
		agents:    agents,
		notifier:  notifier,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger,
	}
}

// Wait blocks until background work started by the service has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) goBackground(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// authorizeClass returns the class tutor if actor may manage the class.
func (s *Service) authorizeClass(ctx context.Context, classID uuid.UUID, actor Actor) (uuid.UUID, error) {
	owner, err := s.roster.TutorID(ctx, classID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("load class: %w", err)
	}
	if owner == uuid.Nil {
		return uuid.Nil, ErrClassNotFound
	}
	if owner != actor.ID && actor.Role != models.RoleAdmin {
		return uuid.Nil, ErrNotClassTutor
	}
	return owner, nil
}

func parseMeetingURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return "", ErrInvalidMeetingURL
	}
	return u.String(), nil
}

// StartSession opens a live session for a class. A nil meetingURL schedules a
// calendar meeting that is tracked for end detection; a supplied URL is an
// ad-hoc session. If the class is already live, the live session is returned.
func (s *Service) StartSession(ctx context.Context, classID uuid.UUID, actor Actor, meetingURL *string) (*models.Session, error) {
	tutorID, err := s.authorizeClass(ctx, classID, actor)
	if err != nil {
		return nil, err
	}
	if live, err := s.store.GetLiveByClass(ctx, classID); err != nil {
		return nil, fmt.Errorf("load live session: %w", err)
	} else if live != nil {
		return live, nil
	}

	learners, err := s.roster.EnrolledLearners(ctx, classID)
	if err != nil {
		return nil, fmt.Errorf("load enrollments: %w", err)
	}

	now := s.now().UTC()
	sess := &models.Session{
		ClassID:            classID,
		TutorID:            tutorID,
		CalendarEventID:    models.NoCalendarEvent,
		Status:             models.SessionStatusLive,
		StartTime:          now,
		EnrolledLearnerIDs: learners,
	}
	if meetingURL != nil {
		if sess.MeetingURL, err = parseMeetingURL(*meetingURL); err != nil {
			return nil, err
		}
	} else {
		m, err := s.createMeeting(ctx, classID, tutorID, now)
		if err != nil {
			return nil, err
		}
		sess.MeetingURL = m.MeetingURL
		sess.CalendarEventID = m.EventID
	}

	if err := s.store.Create(ctx, sess); err != nil {
		// The meeting created above belongs to no session now.
		if sess.CalendarTracked() {
			s.deleteEvent(tutorID, sess.CalendarEventID)
		}
		if !errors.Is(err, ErrLiveSessionExists) {
			return nil, fmt.Errorf("create session: %w", err)
		}
		// Lost a concurrent start; hand back the winner.
		live, gerr := s.store.GetLiveByClass(ctx, classID)
		if gerr != nil || live == nil {
			return nil, err
		}
		return live, nil
	}
	log := s.logger.With(zap.String("session_id", sess.ID.String()), zap.String("class_id", classID.String()))
	log.Info("session started", zap.Bool("calendar_tracked", sess.CalendarTracked()), zap.Int("learners", len(learners)))

	if err := s.classes.MarkLive(ctx, classID, now); err != nil {
		log.Warn("companion class record update failed", zap.Error(err))
	}
	started := *sess
	s.goBackground(func(ctx context.Context) {
		notify.Fanout(ctx, s.notifier, log, started.NotifySet(), notify.Event{
			Type:      notify.TypeSessionStarted,
			Title:     "Class is live",
			Message:   "Your class has started. Join now.",
			SessionID: started.ID,
			ClassID:   started.ClassID,
			URL:       started.MeetingURL,
		})
	})
	if s.agents != nil {
		if err := s.agents.Start(ctx, sess); err != nil {
			log.Warn("recording agent not started", zap.Error(err))
		}
	}
	return sess, nil
}

func (s *Service) createMeeting(ctx context.Context, classID, tutorID uuid.UUID, start time.Time) (*calendar.Meeting, error) {
	if s.meetings == nil {
		return nil, ErrMeetingUnavailable
	}
	title, err := s.roster.Title(ctx, classID)
	if err != nil {
		return nil, fmt.Errorf("load class: %w", err)
	}
	if title == "" {
		title = "Live class"
	}
	m, err := s.meetings.CreateMeeting(ctx, tutorID, calendar.MeetingRequest{
		Title: title,
		Start: start,
		End:   start.Add(s.cfg.MeetingLength),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMeetingUnavailable, err)
	}
	return m, nil
}

func (s *Service) deleteEvent(tutorID uuid.UUID, eventID string) {
	if s.meetings == nil {
		return
	}
	s.goBackground(func(ctx context.Context) {
		if err := s.meetings.DeleteEvent(ctx, tutorID, eventID); err != nil {
			s.logger.Warn("delete calendar event failed", zap.String("event_id", eventID), zap.Error(err))
		}
	})
}

// GetCurrentSession reports whether a class is live, or if not, whether it ended recently.
func (s *Service) GetCurrentSession(ctx context.Context, classID uuid.UUID) (*models.CurrentSession, error) {
	live, err := s.store.GetLiveByClass(ctx, classID)
	if err != nil {
		return nil, fmt.Errorf("load live session: %w", err)
	}
	if live != nil {
		return &models.CurrentSession{Active: true, Session: live}, nil
	}
	out := &models.CurrentSession{}
	last, err := s.store.GetLastEndedByClass(ctx, classID, s.now().Add(-s.cfg.RecentWindow))
	if err != nil {
		return nil, fmt.Errorf("load last session: %w", err)
	}
	if last != nil && last.EndTime != nil {
		out.RecentlyCompleted = &models.RecentlyCompleted{SessionID: last.ID, EndTime: *last.EndTime}
	}
	return out, nil
}

// GetSession returns a session by id.
func (s *Service) GetSession(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	sess, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// EndSession ends a session on explicit tutor request. Ending an ended session returns it unchanged.
func (s *Service) EndSession(ctx context.Context, sessionID uuid.UUID, actor Actor) (*models.Session, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.TutorID != actor.ID && actor.Role != models.RoleAdmin {
		return nil, ErrNotClassTutor
	}
	outcome, err := s.finalizer.Finalize(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if outcome == Finalized && sess.CalendarTracked() {
		s.deleteEvent(sess.TutorID, sess.CalendarEventID)
	}
	return s.GetSession(ctx, sessionID)
}
