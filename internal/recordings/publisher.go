package recordings

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tutorlive/backend/internal/models"
	"github.com/tutorlive/backend/internal/notify"
	"github.com/tutorlive/backend/pkg/storage"
)

// Files publishes stored recordings.
type Files interface {
	SetPublicRead(ctx context.Context, fileID string) (storage.Link, error)
	FileLink(ctx context.Context, fileID string) (string, error)
}

// SessionRecorder writes the recording fields of a session.
type SessionRecorder interface {
	SetRecording(ctx context.Context, id uuid.UUID, url, fileID string) error
}

// ReplayStore persists replays keyed by session.
type ReplayStore interface {
	Upsert(ctx context.Context, rp *models.Replay) (bool, error)
}

// Titles resolves class titles for replay records.
type Titles interface {
	Title(ctx context.Context, classID uuid.UUID) (string, error)
}

// Publisher turns a stored file into the replay of a session. Both the
// retrieval engine and the recording agent publish through it, and
// publishing the same file twice leaves one replay.
type Publisher struct {
	files    Files
	sessions SessionRecorder
	replays  ReplayStore
	titles   Titles
	notifier notify.Dispatcher
	ttl      time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewPublisher creates a publisher. ttl of zero keeps replays listed forever.
func NewPublisher(files Files, sessions SessionRecorder, replays ReplayStore, titles Titles, notifier notify.Dispatcher, ttl time.Duration, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		files:    files,
		sessions: sessions,
		replays:  replays,
		titles:   titles,
		notifier: notifier,
		ttl:      ttl,
		now:      time.Now,
		logger:   logger,
	}
}

// Publish makes f viewable, records it on s and upserts the replay.
// Learners are notified only the first time a replay is created.
func (p *Publisher) Publish(ctx context.Context, s *models.Session, f storage.File) (*models.Replay, error) {
	log := p.logger.With(zap.String("session_id", s.ID.String()), zap.String("file_id", f.ID))

	url := p.link(ctx, log, f)
	if url == "" {
		return nil, fmt.Errorf("no usable link for %s", f.ID)
	}
	if err := p.sessions.SetRecording(ctx, s.ID, url, f.ID); err != nil {
		return nil, fmt.Errorf("set session recording: %w", err)
	}

	title, err := p.titles.Title(ctx, s.ClassID)
	if err != nil {
		log.Warn("class title lookup failed", zap.Error(err))
	}
	rp := &models.Replay{
		SessionID:  s.ID,
		ClassID:    s.ClassID,
		TutorID:    s.TutorID,
		Title:      title,
		StorageURL: url,
		FileName:   f.Name,
		FileSize:   f.Size,
	}
	if p.ttl > 0 {
		exp := p.now().Add(p.ttl).UTC()
		rp.ExpiresAt = &exp
	}
	inserted, err := p.replays.Upsert(ctx, rp)
	if err != nil {
		return nil, fmt.Errorf("upsert replay: %w", err)
	}
	if !inserted {
		log.Debug("replay already published", zap.String("replay_id", rp.ID.String()))
		return rp, nil
	}

	sent := notify.Fanout(ctx, p.notifier, log, s.NotifySet(), notify.Event{
		Type:      notify.TypeReplayReady,
		Title:     "Replay available",
		Message:   fmt.Sprintf("The recording of %q is ready to watch.", title),
		SessionID: s.ID,
		ClassID:   s.ClassID,
		URL:       url,
	})
	log.Info("replay published", zap.String("replay_id", rp.ID.String()), zap.Int("notified", sent))
	return rp, nil
}

func (p *Publisher) link(ctx context.Context, log *zap.Logger, f storage.File) string {
	link, err := p.files.SetPublicRead(ctx, f.ID)
	if err == nil && link.ViewURL != "" {
		return link.ViewURL
	}
	log.Warn("set public read failed, using private link", zap.Error(err))
	signed, err := p.files.FileLink(ctx, f.ID)
	if err == nil && signed != "" {
		return signed
	}
	log.Warn("file link failed", zap.Error(err))
	return f.URL
}
