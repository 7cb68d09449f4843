// Package recorder runs one recording agent per live session: a browser
// joins the meeting as the tutor, a local capture records it, and the file
// is uploaded and published as the session's replay when the meeting ends.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tutorlive/backend/internal/models"
	"github.com/tutorlive/backend/pkg/storage"
)

var (
	ErrAgentExists       = errors.New("recording agent already running for session")
	ErrJoinFailed        = errors.New("could not join meeting")
	ErrCaptureExited     = errors.New("capture exited unexpectedly")
	ErrInvalidTransition = errors.New("invalid agent state transition")
)

// uploadTimeout bounds leave + upload + publish once monitoring stops.
const uploadTimeout = 15 * time.Minute

// Browser drives the meeting page.
type Browser interface {
	Launch(ctx context.Context, profileDir, origin string) error
	Navigate(ctx context.Context, meetingURL string) error
	LocateAndClick(ctx context.Context, selectors []string, timeout time.Duration) error
	MeetingEnded(ctx context.Context) (bool, error)
	Close() error
}

// Capturer records screen and audio to a local file. Stop is a no-op when
// the capture never started or already stopped.
type Capturer interface {
	Start(ctx context.Context, outputPath string) error
	Stop() error
	// Done is closed when the capture process exits for any reason.
	Done() <-chan struct{}
	Err() error
}

// Uploader stores a finished recording.
type Uploader interface {
	UploadFile(ctx context.Context, localPath, name, sessionID string) (storage.File, error)
}

// Publisher makes an uploaded file the session's replay.
type Publisher interface {
	Publish(ctx context.Context, s *models.Session, f storage.File) (*models.Replay, error)
}

// StatusWriter persists the coarse agent status on the session.
type StatusWriter interface {
	SetAgentStatus(ctx context.Context, id uuid.UUID, status models.AgentStatus, agentErr *string) error
}

// Config holds agent timings and page selectors.
type Config struct {
	OutputDir       string
	ProfileDir      string
	JoinTimeout     time.Duration
	MonitorInterval time.Duration
	MaxDuration     time.Duration
	JoinSelectors   []string
	LeaveSelectors  []string
}

var transitions = map[models.AgentStatus][]models.AgentStatus{
	models.AgentStatusIdle:         {models.AgentStatusInitializing},
	models.AgentStatusInitializing: {models.AgentStatusJoined},
	models.AgentStatusJoined:       {models.AgentStatusRecording},
	models.AgentStatusRecording:    {models.AgentStatusLeaving},
	models.AgentStatusLeaving:      {models.AgentStatusUploading},
	models.AgentStatusUploading:    {models.AgentStatusCompleted},
}

func canTransition(from, to models.AgentStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == models.AgentStatusError {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Agent records one session. Run drives it to a terminal state; cleanup
// runs exactly once on every path.
type Agent struct {
	session  models.Session
	cfg      Config
	browser  Browser
	capture  Capturer
	uploader Uploader
	pub      Publisher
	status   StatusWriter
	logger   *zap.Logger

	mu      sync.Mutex
	state   models.AgentStatus
	lastErr error

	stop        chan struct{}
	stopOnce    sync.Once
	cleanupOnce sync.Once
	onCleanup   func(*Agent)
	done        chan struct{}
	outputPath  string
}

func newAgent(s models.Session, cfg Config, b Browser, c Capturer, up Uploader, pub Publisher, status StatusWriter, onCleanup func(*Agent), logger *zap.Logger) *Agent {
	return &Agent{
		session:    s,
		cfg:        cfg,
		browser:    b,
		capture:    c,
		uploader:   up,
		pub:        pub,
		status:     status,
		logger:     logger.With(zap.String("session_id", s.ID.String())),
		state:      models.AgentStatusIdle,
		stop:       make(chan struct{}),
		onCleanup:  onCleanup,
		done:       make(chan struct{}),
		outputPath: filepath.Join(cfg.OutputDir, s.ID.String()+".mp4"),
	}
}

// SessionID returns the recorded session.
func (a *Agent) SessionID() uuid.UUID { return a.session.ID }

// State returns the current state.
func (a *Agent) State() models.AgentStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Err returns the error that moved the agent to the error state, if any.
func (a *Agent) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

// Stop asks the agent to leave and upload. Safe to call repeatedly.
func (a *Agent) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })
}

// Done is closed after cleanup.
func (a *Agent) Done() <-chan struct{} { return a.done }

func (a *Agent) setState(ctx context.Context, to models.AgentStatus, cause error) error {
	a.mu.Lock()
	from := a.state
	if !canTransition(from, to) {
		a.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	a.state = to
	if cause != nil {
		a.lastErr = cause
	}
	a.mu.Unlock()

	var msg *string
	if cause != nil {
		m := cause.Error()
		msg = &m
	}
	if a.status != nil {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := a.status.SetAgentStatus(pctx, a.session.ID, to, msg); err != nil {
			a.logger.Warn("persist agent status failed", zap.String("status", string(to)), zap.Error(err))
		}
	}
	a.logger.Debug("agent state", zap.String("from", string(from)), zap.String("to", string(to)))
	return nil
}

func (a *Agent) fail(ctx context.Context, err error) {
	a.logger.Error("recording agent failed", zap.String("state", string(a.State())), zap.Error(err))
	_ = a.setState(ctx, models.AgentStatusError, err)
}

// Run records the session until the meeting ends, a stop is requested,
// ctx is cancelled or the max duration passes.
func (a *Agent) Run(ctx context.Context) {
	defer a.cleanup()

	if err := a.initialize(ctx); err != nil {
		a.fail(ctx, err)
		return
	}
	if err := a.join(ctx); err != nil {
		a.fail(ctx, err)
		return
	}
	if err := a.startRecording(ctx); err != nil {
		a.fail(ctx, err)
		return
	}
	if err := a.monitor(ctx); err != nil {
		a.fail(ctx, err)
		return
	}

	// The meeting is over; finish even if the caller is gone.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uploadTimeout)
	defer cancel()
	if err := a.leave(fctx); err != nil {
		a.fail(fctx, err)
		return
	}
	if err := a.upload(fctx); err != nil {
		a.fail(fctx, err)
		return
	}
	_ = a.setState(fctx, models.AgentStatusCompleted, nil)
	a.logger.Info("recording agent completed")
}

func (a *Agent) initialize(ctx context.Context) error {
	if err := a.setState(ctx, models.AgentStatusInitializing, nil); err != nil {
		return err
	}
	u, err := url.Parse(a.session.MeetingURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("meeting url %q: invalid", a.session.MeetingURL)
	}
	origin := u.Scheme + "://" + u.Host
	profile := filepath.Join(a.cfg.ProfileDir, a.session.TutorID.String())
	if err := a.browser.Launch(ctx, profile, origin); err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	return nil
}

func (a *Agent) join(ctx context.Context) error {
	if err := a.browser.Navigate(ctx, a.session.MeetingURL); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	if err := a.browser.LocateAndClick(ctx, a.cfg.JoinSelectors, a.cfg.JoinTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrJoinFailed, err)
	}
	return a.setState(ctx, models.AgentStatusJoined, nil)
}

func (a *Agent) startRecording(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(a.outputPath), 0o750); err != nil {
		return fmt.Errorf("output dir: %w", err)
	}
	if err := a.capture.Start(ctx, a.outputPath); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	a.logger.Info("recording started", zap.String("output", a.outputPath))
	return a.setState(ctx, models.AgentStatusRecording, nil)
}

func (a *Agent) monitor(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.MonitorInterval)
	defer ticker.Stop()
	var deadline <-chan time.Time
	if a.cfg.MaxDuration > 0 {
		t := time.NewTimer(a.cfg.MaxDuration)
		defer t.Stop()
		deadline = t.C
	}

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("agent context done, finishing recording")
			return nil
		case <-a.stop:
			a.logger.Info("stop requested")
			return nil
		case <-deadline:
			a.logger.Warn("max recording duration reached", zap.Duration("max", a.cfg.MaxDuration))
			return nil
		case <-a.capture.Done():
			if err := a.capture.Err(); err != nil {
				return fmt.Errorf("%w: %w", ErrCaptureExited, err)
			}
			return ErrCaptureExited
		case <-ticker.C:
			ended, err := a.browser.MeetingEnded(ctx)
			if err != nil {
				a.logger.Debug("meeting state check failed", zap.Error(err))
				continue
			}
			if ended {
				a.logger.Info("meeting ended")
				return nil
			}
		}
	}
}

func (a *Agent) leave(ctx context.Context) error {
	if err := a.setState(ctx, models.AgentStatusLeaving, nil); err != nil {
		return err
	}
	if len(a.cfg.LeaveSelectors) > 0 {
		if err := a.browser.LocateAndClick(ctx, a.cfg.LeaveSelectors, 5*time.Second); err != nil {
			a.logger.Debug("leave control not found", zap.Error(err))
		}
	}
	if err := a.capture.Stop(); err != nil {
		return fmt.Errorf("stop capture: %w", err)
	}
	return nil
}

func (a *Agent) upload(ctx context.Context) error {
	if err := a.setState(ctx, models.AgentStatusUploading, nil); err != nil {
		return err
	}
	name := filepath.Base(a.outputPath)
	f, err := a.uploader.UploadFile(ctx, a.outputPath, name, a.session.ID.String())
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	if _, err := a.pub.Publish(ctx, &a.session, f); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func (a *Agent) cleanup() {
	a.cleanupOnce.Do(func() {
		if err := a.capture.Stop(); err != nil {
			a.logger.Debug("capture stop on cleanup", zap.Error(err))
		}
		if err := a.browser.Close(); err != nil {
			a.logger.Debug("browser close on cleanup", zap.Error(err))
		}
		if err := os.Remove(a.outputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			a.logger.Warn("remove recording file failed", zap.Error(err))
		}
		if a.onCleanup != nil {
			a.onCleanup(a)
		}
		close(a.done)
	})
}
