package detector

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tutorlive/backend/internal/calendar"
	"github.com/tutorlive/backend/internal/models"
	"github.com/tutorlive/backend/internal/notify"
	"github.com/tutorlive/backend/internal/sessions"
	"github.com/tutorlive/backend/pkg/queue"
)

type memSessions struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.Session
}

func newMemSessions(ss ...models.Session) *memSessions {
	m := &memSessions{sessions: make(map[uuid.UUID]*models.Session)}
	for i := range ss {
		s := ss[i]
		m.sessions[s.ID] = &s
	}
	return m
}

func (m *memSessions) ListLive(context.Context) ([]models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Session
	for _, s := range m.sessions {
		if s.Live() {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *memSessions) End(_ context.Context, id uuid.UUID, at time.Time) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || !s.Live() {
		return nil, nil
	}
	s.Status = models.SessionStatusEnded
	s.EndTime = &at
	cp := *s
	return &cp, nil
}

func (m *memSessions) get(id uuid.UUID) *models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.sessions[id]
	return &cp
}

// countingFinalizer records calls and delegates to the store.
type countingFinalizer struct {
	mu    sync.Mutex
	store *memSessions
	calls []uuid.UUID
	now   time.Time
}

func (f *countingFinalizer) Finalize(ctx context.Context, id uuid.UUID) (sessions.Outcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	f.mu.Unlock()
	s, err := f.store.End(ctx, id, f.now)
	if err != nil {
		return 0, err
	}
	if s == nil {
		return sessions.AlreadyFinalized, nil
	}
	return sessions.Finalized, nil
}

func (f *countingFinalizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeEvents struct {
	mu    sync.Mutex
	event *calendar.Event
	err   error
	calls int
	seen  map[string]int
}

func (f *fakeEvents) GetEvent(_ context.Context, _ uuid.UUID, eventID string) (*calendar.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.seen == nil {
		f.seen = make(map[string]int)
	}
	f.seen[eventID]++
	if f.err != nil {
		return nil, f.err
	}
	ev := *f.event
	return &ev, nil
}

type companion struct {
	mu        sync.Mutex
	completed []uuid.UUID
}

func (c *companion) MarkLive(context.Context, uuid.UUID, time.Time) error { return nil }

func (c *companion) MarkCompleted(_ context.Context, classID uuid.UUID, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed = append(c.completed, classID)
	return nil
}

type inbox struct {
	mu     sync.Mutex
	events map[uuid.UUID][]notify.Event
}

func (i *inbox) Emit(_ context.Context, userID uuid.UUID, ev notify.Event) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.events == nil {
		i.events = make(map[uuid.UUID][]notify.Event)
	}
	i.events[userID] = append(i.events[userID], ev)
	return nil
}

func (i *inbox) count(userID uuid.UUID) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.events[userID])
}

type noopRetrieval struct{}

func (noopRetrieval) EnqueueRetrieval(context.Context, queue.RetrievalPayload, time.Duration) error {
	return nil
}
