package models

import (
	"time"

	"github.com/google/uuid"
)

// NoCalendarEvent is stored as calendar_event_id for ad-hoc meeting links that have no calendar tracking.
const NoCalendarEvent = "adhoc"

// SessionStatus is the lifecycle of a live session. The only transition is live → ended.
type SessionStatus string

const (
	SessionStatusLive  SessionStatus = "live"
	SessionStatusEnded SessionStatus = "ended"
)

// AgentStatus is the coarse recording agent state persisted on the session.
type AgentStatus string

const (
	AgentStatusIdle         AgentStatus = "idle"
	AgentStatusInitializing AgentStatus = "initializing"
	AgentStatusJoined       AgentStatus = "joined"
	AgentStatusRecording    AgentStatus = "recording"
	AgentStatusLeaving      AgentStatus = "leaving"
	AgentStatusUploading    AgentStatus = "uploading"
	AgentStatusCompleted    AgentStatus = "completed"
	AgentStatusError        AgentStatus = "error"
)

// Terminal reports whether no further transition is possible.
func (s AgentStatus) Terminal() bool {
	return s == AgentStatusCompleted || s == AgentStatusError
}

// Session is the authoritative record of one live occurrence of a class.
type Session struct {
	ID                 uuid.UUID     `json:"id"`
	ClassID            uuid.UUID     `json:"class_id"`
	TutorID            uuid.UUID     `json:"tutor_id"`
	MeetingURL         string        `json:"meeting_url"`
	CalendarEventID    string        `json:"calendar_event_id"`
	Status             SessionStatus `json:"status"`
	StartTime          time.Time     `json:"start_time"`
	EndTime            *time.Time    `json:"end_time,omitempty"`
	EnrolledLearnerIDs []uuid.UUID   `json:"enrolled_learner_ids"`
	RecordingURL       *string       `json:"recording_url,omitempty"`
	RecordingID        *string       `json:"recording_id,omitempty"`
	AgentStatus        *AgentStatus  `json:"agent_status,omitempty"`
	AgentError         *string       `json:"agent_error,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// CalendarTracked reports whether the session is tied to a real calendar event.
func (s *Session) CalendarTracked() bool {
	return s.CalendarEventID != "" && s.CalendarEventID != NoCalendarEvent
}

// Live reports whether the session has not been finalized yet.
func (s *Session) Live() bool {
	return s.Status == SessionStatusLive
}

// Elapsed returns how long the session has been running at now (or ran, once ended).
func (s *Session) Elapsed(now time.Time) time.Duration {
	if s.EndTime != nil {
		return s.EndTime.Sub(s.StartTime)
	}
	return now.Sub(s.StartTime)
}

// NotifySet returns the enrolled learners that should be notified, excluding the tutor.
func (s *Session) NotifySet() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(s.EnrolledLearnerIDs))
	seen := make(map[uuid.UUID]struct{}, len(s.EnrolledLearnerIDs))
	for _, id := range s.EnrolledLearnerIDs {
		if id == s.TutorID {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// ClassStatusValue mirrors the coarse class state shown in listings.
type ClassStatusValue string

const (
	ClassStatusScheduled ClassStatusValue = "scheduled"
	ClassStatusLive      ClassStatusValue = "live"
	ClassStatusCompleted ClassStatusValue = "completed"
)

// ClassStatus is the denormalized companion record kept eventually consistent with Session.
type ClassStatus struct {
	ClassID   uuid.UUID        `json:"class_id"`
	Status    ClassStatusValue `json:"status"`
	StartedAt *time.Time       `json:"started_at,omitempty"`
	EndedAt   *time.Time       `json:"ended_at,omitempty"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// RecentlyCompleted describes the last session of a class that ended shortly before the query.
type RecentlyCompleted struct {
	SessionID uuid.UUID `json:"session_id"`
	EndTime   time.Time `json:"end_time"`
}

// CurrentSession is the answer to "is this class live right now".
type CurrentSession struct {
	Active            bool               `json:"active"`
	Session           *Session           `json:"session,omitempty"`
	RecentlyCompleted *RecentlyCompleted `json:"recently_completed,omitempty"`
}
