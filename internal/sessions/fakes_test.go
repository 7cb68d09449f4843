package sessions

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tutorlive/backend/internal/calendar"
	"github.com/tutorlive/backend/internal/models"
	"github.com/tutorlive/backend/internal/notify"
	"github.com/tutorlive/backend/pkg/queue"
)

// memStore mirrors the two database guarantees: one live session per class,
// and the conditional live → ended update.
type memStore struct {
	mu       sync.Mutex
	sessions  map[uuid.UUID]*models.Session
	endErr    error
	createErr error
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[uuid.UUID]*models.Session)}
}

func (m *memStore) put(s models.Session) *models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	m.sessions[s.ID] = &s
	cp := s
	return &cp
}

func (m *memStore) Create(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, existing := range m.sessions {
		if existing.ClassID == s.ClassID && existing.Live() {
			return ErrLiveSessionExists
		}
	}
	s.ID = uuid.New()
	s.CreatedAt = s.StartTime
	s.UpdatedAt = s.StartTime
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memStore) End(_ context.Context, id uuid.UUID, at time.Time) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.endErr != nil {
		return nil, m.endErr
	}
	s, ok := m.sessions[id]
	if !ok || !s.Live() {
		return nil, nil
	}
	s.Status = models.SessionStatusEnded
	s.EndTime = &at
	cp := *s
	return &cp, nil
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) GetLiveByClass(_ context.Context, classID uuid.UUID) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.ClassID == classID && s.Live() {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetLastEndedByClass(_ context.Context, classID uuid.UUID, since time.Time) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ended []*models.Session
	for _, s := range m.sessions {
		if s.ClassID == classID && !s.Live() && !s.EndTime.Before(since) {
			ended = append(ended, s)
		}
	}
	if len(ended) == 0 {
		return nil, nil
	}
	sort.Slice(ended, func(i, j int) bool { return ended[i].EndTime.After(*ended[j].EndTime) })
	cp := *ended[0]
	return &cp, nil
}

func (m *memStore) liveCount(classID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.ClassID == classID && s.Live() {
			n++
		}
	}
	return n
}

type fakeClasses struct {
	mu        sync.Mutex
	live      []uuid.UUID
	completed []uuid.UUID
	err       error
}

func (f *fakeClasses) MarkLive(_ context.Context, classID uuid.UUID, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live = append(f.live, classID)
	return f.err
}

func (f *fakeClasses) MarkCompleted(_ context.Context, classID uuid.UUID, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, classID)
	return f.err
}

type fakeRoster struct {
	tutors   map[uuid.UUID]uuid.UUID
	learners map[uuid.UUID][]uuid.UUID
}

func (f *fakeRoster) TutorID(_ context.Context, classID uuid.UUID) (uuid.UUID, error) {
	return f.tutors[classID], nil
}

func (f *fakeRoster) Title(context.Context, uuid.UUID) (string, error) { return "Algebra II", nil }

func (f *fakeRoster) EnrolledLearners(_ context.Context, classID uuid.UUID) ([]uuid.UUID, error) {
	return append([]uuid.UUID(nil), f.learners[classID]...), nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events map[uuid.UUID][]notify.Event
}

func (f *fakeNotifier) Emit(_ context.Context, userID uuid.UUID, ev notify.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.events == nil {
		f.events = make(map[uuid.UUID][]notify.Event)
	}
	f.events[userID] = append(f.events[userID], ev)
	return nil
}

func (f *fakeNotifier) count(userID uuid.UUID, typ string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ev := range f.events[userID] {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

type scheduled struct {
	payload queue.RetrievalPayload
	delay   time.Duration
}

type fakeScheduler struct {
	mu   sync.Mutex
	jobs []scheduled
}

func (f *fakeScheduler) EnqueueRetrieval(_ context.Context, p queue.RetrievalPayload, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, scheduled{payload: p, delay: delay})
	return nil
}

type fakeStopper struct {
	mu      sync.Mutex
	stopped []uuid.UUID
}

func (f *fakeStopper) StopAgent(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, id)
	return nil
}

type fakeMeetings struct {
	mu        sync.Mutex
	created   int
	lastEvent string
	deleted   []string
	err       error
}

func (f *fakeMeetings) CreateMeeting(_ context.Context, _ uuid.UUID, req calendar.MeetingRequest) (*calendar.Meeting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.created++
	f.lastEvent = "evt-" + uuid.NewString()[:8]
	return &calendar.Meeting{EventID: f.lastEvent, MeetingURL: "https://meet.google.com/abc-defg-hij", Start: req.Start, End: req.End}, nil
}

func (f *fakeMeetings) DeleteEvent(_ context.Context, _ uuid.UUID, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, eventID)
	return nil
}

func (f *fakeMeetings) deletedEvents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

type fakeAgents struct {
	mu      sync.Mutex
	started []uuid.UUID
}

func (f *fakeAgents) Start(_ context.Context, s *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, s.ID)
	return nil
}

var errBoom = errors.New("boom")
