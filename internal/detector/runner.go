package detector

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Ticker is one detector pass.
type Ticker interface {
	Name() string
	Tick(ctx context.Context) (int, error)
}

// Runner schedules detectors as independent cron jobs. A tick still running
// when the next one is due is skipped rather than overlapped.
type Runner struct {
	c      *cron.Cron
	logger *zap.Logger
}

// NewRunner creates a runner.
func NewRunner(logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{l: logger.Named("cron").Sugar()}
	return &Runner{
		c:      cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		logger: logger,
	}
}

// Add schedules t every interval. Each tick gets a context bounded by the interval.
func (r *Runner) Add(t Ticker, interval time.Duration) {
	name := t.Name()
	timeout := interval
	if timeout < 5*time.Second {
		timeout = 5 * time.Second
	}
	r.c.Schedule(cron.Every(interval), cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		n, err := t.Tick(ctx)
		if err != nil {
			r.logger.Warn("detector tick failed", zap.String("detector", name), zap.Error(err))
			return
		}
		if n > 0 {
			r.logger.Info("detector tick", zap.String("detector", name), zap.Int("finalized", n))
		}
	}))
	r.logger.Info("detector scheduled", zap.String("detector", name), zap.Duration("interval", interval))
}

// Start begins scheduling in the background.
func (r *Runner) Start() {
	r.c.Start()
}

// Stop stops scheduling and waits for running ticks until ctx is done.
func (r *Runner) Stop(ctx context.Context) {
	select {
	case <-r.c.Stop().Done():
	case <-ctx.Done():
		r.logger.Warn("detector stop timed out")
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
