package recorder

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tutorlive/backend/internal/models"
)

// BrowserFactory returns a fresh browser for one agent.
type BrowserFactory func() Browser

// CapturerFactory returns a fresh capture for one agent.
type CapturerFactory func() Capturer

// Manager owns the registry of running agents, keyed by session id.
type Manager struct {
	cfg        Config
	newBrowser BrowserFactory
	newCapture CapturerFactory
	uploader   Uploader
	pub        Publisher
	status     StatusWriter
	logger     *zap.Logger

	mu     sync.Mutex
	agents map[uuid.UUID]*Agent
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates an agent manager.
func NewManager(cfg Config, browsers BrowserFactory, captures CapturerFactory, uploader Uploader, pub Publisher, status StatusWriter, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:        cfg,
		newBrowser: browsers,
		newCapture: captures,
		uploader:   uploader,
		pub:        pub,
		status:     status,
		logger:     logger.Named("recorder"),
		agents:     make(map[uuid.UUID]*Agent),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start launches an agent for s. The agent outlives ctx; it stops on
// Stop, meeting end or Shutdown.
func (m *Manager) Start(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	if _, ok := m.agents[s.ID]; ok {
		m.mu.Unlock()
		return ErrAgentExists
	}
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		return context.Canceled
	}
	a := newAgent(*s, m.cfg, m.newBrowser(), m.newCapture(), m.uploader, m.pub, m.status, m.remove, m.logger)
	m.agents[s.ID] = a
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		a.Run(m.ctx)
	}()
	m.logger.Info("recording agent started", zap.String("session_id", s.ID.String()))
	return nil
}

func (m *Manager) remove(a *Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.agents[a.SessionID()]; ok && cur == a {
		delete(m.agents, a.SessionID())
	}
}

// StopAgent asks the session's agent to finish. Unknown sessions are ignored.
func (m *Manager) StopAgent(_ context.Context, sessionID uuid.UUID) error {
	m.mu.Lock()
	a, ok := m.agents[sessionID]
	m.mu.Unlock()
	if ok {
		a.Stop()
	}
	return nil
}

// Agent returns the running agent of a session.
func (m *Manager) Agent(sessionID uuid.UUID) (*Agent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[sessionID]
	return a, ok
}

// Active returns the number of registered agents.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.agents)
}

// Shutdown stops every agent and waits for their cleanup or ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
