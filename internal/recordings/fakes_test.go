package recordings

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tutorlive/backend/internal/models"
	"github.com/tutorlive/backend/internal/notify"
	"github.com/tutorlive/backend/pkg/queue"
	"github.com/tutorlive/backend/pkg/storage"
)

// fakeBucket returns nothing until appearAfter name searches have run.
type fakeBucket struct {
	mu          sync.Mutex
	byName      []storage.File
	byWindow    []storage.File
	nameHits    int
	windowHits  int
	appearAfter int
	lastFrom    time.Time
	lastTo      time.Time
	lastSession string
	aclErr      error
	published   []string
}

func (b *fakeBucket) SearchByName(_ context.Context, _ string) ([]storage.File, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nameHits++
	if b.nameHits <= b.appearAfter {
		return nil, nil
	}
	return b.byName, nil
}

func (b *fakeBucket) SearchByTimeWindow(_ context.Context, from, to time.Time, sessionID string) ([]storage.File, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.windowHits++
	b.lastFrom, b.lastTo, b.lastSession = from, to, sessionID
	if b.nameHits <= b.appearAfter {
		return nil, nil
	}
	return b.byWindow, nil
}

func (b *fakeBucket) SetPublicRead(_ context.Context, fileID string) (storage.Link, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.aclErr != nil {
		return storage.Link{}, b.aclErr
	}
	b.published = append(b.published, fileID)
	u := "https://bucket.s3.amazonaws.com/" + fileID
	return storage.Link{ViewURL: u, DownloadURL: u}, nil
}

func (b *fakeBucket) FileLink(_ context.Context, fileID string) (string, error) {
	return "https://signed.example/" + fileID + "?X-Amz-Signature=abc", nil
}

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.Session
	writes   int
}

func newFakeSessions(ss ...models.Session) *fakeSessions {
	f := &fakeSessions{sessions: make(map[uuid.UUID]*models.Session)}
	for i := range ss {
		s := ss[i]
		f.sessions[s.ID] = &s
	}
	return f
}

func (f *fakeSessions) GetByID(_ context.Context, id uuid.UUID) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessions) SetRecording(_ context.Context, id uuid.UUID, url, fileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return errors.New("no session")
	}
	f.writes++
	s.RecordingURL = &url
	s.RecordingID = &fileID
	return nil
}

type fakeReplays struct {
	mu      sync.Mutex
	bySess  map[uuid.UUID]*models.Replay
	upserts int
}

func newFakeReplays() *fakeReplays {
	return &fakeReplays{bySess: make(map[uuid.UUID]*models.Replay)}
}

func (f *fakeReplays) Upsert(_ context.Context, rp *models.Replay) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if existing, ok := f.bySess[rp.SessionID]; ok {
		existing.StorageURL = rp.StorageURL
		existing.FileName = rp.FileName
		existing.FileSize = rp.FileSize
		*rp = *existing
		return false, nil
	}
	rp.ID = uuid.New()
	rp.CreatedAt = time.Now()
	cp := *rp
	f.bySess[rp.SessionID] = &cp
	return true, nil
}

func (f *fakeReplays) GetByID(_ context.Context, id uuid.UUID) (*models.Replay, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rp := range f.bySess {
		if rp.ID == id {
			cp := *rp
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeReplays) ListByClass(_ context.Context, classID uuid.UUID, now time.Time) ([]models.Replay, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Replay, 0)
	for _, rp := range f.bySess {
		if rp.ClassID == classID && !rp.Expired(now) {
			out = append(out, *rp)
		}
	}
	return out, nil
}

func (f *fakeReplays) IncrementView(_ context.Context, id uuid.UUID, now time.Time) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rp := range f.bySess {
		if rp.ID == id && !rp.Expired(now) {
			rp.ViewCount++
			return rp.ViewCount, true, nil
		}
	}
	return 0, false, nil
}

func (f *fakeReplays) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bySess)
}

type fakeRoster struct {
	tutor    uuid.UUID
	learners []uuid.UUID
}

func (f fakeRoster) TutorID(context.Context, uuid.UUID) (uuid.UUID, error) { return f.tutor, nil }

func (f fakeRoster) Title(context.Context, uuid.UUID) (string, error) { return "Organic Chemistry", nil }

func (f fakeRoster) EnrolledLearners(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	return f.learners, nil
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

func (f *fakeNotifier) count(userID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events[userID])
}

type fakeJobs struct {
	mu   sync.Mutex
	jobs []queue.RetrievalPayload
}

func (f *fakeJobs) EnqueueRetrieval(_ context.Context, p queue.RetrievalPayload, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, p)
	return nil
}
