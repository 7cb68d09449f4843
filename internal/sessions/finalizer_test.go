package sessions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tutorlive/backend/internal/models"
	"github.com/tutorlive/backend/internal/notify"
)

type finalizerFixture struct {
	store     *memStore
	classes   *fakeClasses
	notifier  *fakeNotifier
	scheduler *fakeScheduler
	stopper   *fakeStopper
	finalizer *Finalizer
	now       time.Time
}

func newFinalizerFixture() *finalizerFixture {
	f := &finalizerFixture{
		store:     newMemStore(),
		classes:   &fakeClasses{},
		notifier:  &fakeNotifier{},
		scheduler: &fakeScheduler{},
		stopper:   &fakeStopper{},
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.finalizer = NewFinalizer(f.store, f.classes, f.notifier, f.scheduler, 30*time.Second, zap.NewNop(),
		WithAgentStopper(f.stopper),
		WithClock(func() time.Time { return f.now }))
	return f
}

func TestFinalizeIsAtMostOnceUnderConcurrency(t *testing.T) {
	fx := newFinalizerFixture()
	tutor := uuid.New()
	learners := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	s := fx.store.put(models.Session{
		ClassID:            uuid.New(),
		TutorID:            tutor,
		Status:             models.SessionStatusLive,
		StartTime:          fx.now.Add(-time.Hour),
		CalendarEventID:    models.NoCalendarEvent,
		EnrolledLearnerIDs: append(learners, tutor),
	})

	const callers = 32
	outcomes := make([]Outcome, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := fx.finalizer.Finalize(context.Background(), s.ID)
			assert.NoError(t, err)
			outcomes[i] = out
		}(i)
	}
	wg.Wait()
	fx.finalizer.Wait()

	finalized := 0
	for _, o := range outcomes {
		if o == Finalized {
			finalized++
		} else {
			assert.Equal(t, AlreadyFinalized, o)
		}
	}
	assert.Equal(t, 1, finalized)

	got, _ := fx.store.GetByID(context.Background(), s.ID)
	assert.Equal(t, models.SessionStatusEnded, got.Status)
	require.NotNil(t, got.EndTime)
	assert.Equal(t, fx.now, *got.EndTime)

	assert.Equal(t, []uuid.UUID{s.ClassID}, fx.classes.completed)
	for _, l := range learners {
		assert.Equal(t, 1, fx.notifier.count(l, notify.TypeSessionEnded))
	}
	assert.Equal(t, 1, fx.notifier.count(tutor, notify.TypeSessionEnded), "tutor gets exactly one notification")
	require.Len(t, fx.scheduler.jobs, 1)
	assert.Equal(t, s.ID, fx.scheduler.jobs[0].payload.SessionID)
	assert.Equal(t, 30*time.Second, fx.scheduler.jobs[0].delay)
	assert.Equal(t, []uuid.UUID{s.ID}, fx.stopper.stopped)
}

func TestFinalizeEndedSessionDoesNothing(t *testing.T) {
	fx := newFinalizerFixture()
	end := fx.now.Add(-time.Minute)
	s := fx.store.put(models.Session{ClassID: uuid.New(), TutorID: uuid.New(), Status: models.SessionStatusEnded, StartTime: fx.now.Add(-time.Hour), EndTime: &end})

	out, err := fx.finalizer.Finalize(context.Background(), s.ID)
	require.NoError(t, err)
	fx.finalizer.Wait()

	assert.Equal(t, AlreadyFinalized, out)
	assert.Empty(t, fx.classes.completed)
	assert.Empty(t, fx.scheduler.jobs)
	assert.Empty(t, fx.stopper.stopped)
	got, _ := fx.store.GetByID(context.Background(), s.ID)
	assert.Equal(t, end, *got.EndTime)
}

func TestFinalizeUnknownSession(t *testing.T) {
	fx := newFinalizerFixture()
	out, err := fx.finalizer.Finalize(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, AlreadyFinalized, out)
}

func TestFinalizeStoreError(t *testing.T) {
	fx := newFinalizerFixture()
	fx.store.endErr = errBoom
	_, err := fx.finalizer.Finalize(context.Background(), uuid.New())
	assert.ErrorIs(t, err, errBoom)
}

func TestFinalizeCompanionFailureIsNotFatal(t *testing.T) {
	fx := newFinalizerFixture()
	fx.classes.err = errBoom
	learner := uuid.New()
	s := fx.store.put(models.Session{ClassID: uuid.New(), TutorID: uuid.New(), Status: models.SessionStatusLive, StartTime: fx.now.Add(-time.Hour), EnrolledLearnerIDs: []uuid.UUID{learner}})

	out, err := fx.finalizer.Finalize(context.Background(), s.ID)
	require.NoError(t, err)
	fx.finalizer.Wait()

	assert.Equal(t, Finalized, out)
	assert.Equal(t, 1, fx.notifier.count(learner, notify.TypeSessionEnded))
	assert.Len(t, fx.scheduler.jobs, 1)
}

func TestFinalizeSideEffectsSurviveCallerCancel(t *testing.T) {
	fx := newFinalizerFixture()
	s := fx.store.put(models.Session{ClassID: uuid.New(), TutorID: uuid.New(), Status: models.SessionStatusLive, StartTime: fx.now.Add(-time.Hour)})

	ctx, cancel := context.WithCancel(context.Background())
	out, err := fx.finalizer.Finalize(ctx, s.ID)
	cancel()
	require.NoError(t, err)
	fx.finalizer.Wait()

	assert.Equal(t, Finalized, out)
	assert.Len(t, fx.scheduler.jobs, 1)
}
