// Package app wires the components shared by the API server and the worker.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/tutorlive/backend/config"
	"github.com/tutorlive/backend/internal/calendar"
	"github.com/tutorlive/backend/internal/classes"
	"github.com/tutorlive/backend/internal/detector"
	"github.com/tutorlive/backend/internal/notify"
	"github.com/tutorlive/backend/internal/oauth"
	"github.com/tutorlive/backend/internal/realtime"
	"github.com/tutorlive/backend/internal/recorder"
	"github.com/tutorlive/backend/internal/recordings"
	"github.com/tutorlive/backend/internal/sessions"
	"github.com/tutorlive/backend/internal/worker"
	"github.com/tutorlive/backend/pkg/database"
	"github.com/tutorlive/backend/pkg/queue"
	"github.com/tutorlive/backend/pkg/redis"
	"github.com/tutorlive/backend/pkg/storage"
)

// Core holds the long-lived clients and domain components.
type Core struct {
	Config *config.Config
	Logger *zap.Logger

	Pool  *pgxpool.Pool
	Redis *redis.Client
	S3    *storage.S3

	Sessions *sessions.Repository
	Classes  *classes.Repository
	Replays  *recordings.Repository
	Queue    *queue.Queue

	PubSub   *realtime.RedisPubSub
	Notifier *notify.RedisDispatcher

	Tokens   *oauth.Manager
	Calendar *calendar.TutorCalendar

	Publisher *recordings.Publisher
	Retriever *recordings.Retriever
	Stops     *recorder.RedisStopSignal
	Finalizer *sessions.Finalizer
}

// New connects to Postgres, Redis and S3 and builds the domain components.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Core, error) {
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.PoolOptions(), logger)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		RecordingsBucket:     cfg.AWS.RecordingsBucket,
		RecordingsPrefix:     cfg.AWS.RecordingsPrefix,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}, logger)
	if err != nil {
		_ = rdb.Close()
		pool.Close()
		return nil, fmt.Errorf("s3: %w", err)
	}
	sealer, err := oauth.NewSealer(cfg.Google.TokenEncryptionKey)
	if err != nil {
		_ = rdb.Close()
		pool.Close()
		return nil, fmt.Errorf("token sealer: %w", err)
	}

	c := &Core{Config: cfg, Logger: logger, Pool: pool, Redis: rdb, S3: s3Client}
	c.Sessions = sessions.NewRepository(pool)
	c.Classes = classes.NewRepository(pool)
	c.Replays = recordings.NewRepository(pool)
	c.Queue = queue.NewQueue(rdb.Client, logger)
	c.PubSub = realtime.NewRedisPubSub(rdb.Client, logger)
	c.Notifier = notify.NewRedisDispatcher(rdb.Client, c.PubSub, logger)

	oauthCfg := oauth.GoogleConfig(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.RedirectURL)
	c.Tokens = oauth.NewManager(oauthCfg, oauth.NewRepository(pool, sealer), oauth.NewRedisStateStore(rdb.Client), logger)
	c.Calendar = calendar.NewTutorCalendar(calendar.NewGoogle(cfg.Google.CalendarID), c.Tokens, logger)

	c.Publisher = recordings.NewPublisher(s3Client, c.Sessions, c.Replays, c.Classes, c.Notifier, cfg.Replay.TTL, logger)
	c.Retriever = recordings.NewRetriever(s3Client, c.Sessions, c.Publisher, cfg.Retrieval.Backoff, cfg.Retrieval.WindowPadding, logger)
	c.Stops = recorder.NewRedisStopSignal(rdb.Client, logger)
	c.Finalizer = sessions.NewFinalizer(c.Sessions, c.Classes, c.Notifier, c.Queue, cfg.Lifecycle.RetrievalDelay, logger,
		sessions.WithAgentStopper(c.Stops))
	return c, nil
}

// Migrate applies pending schema migrations.
func (c *Core) Migrate(ctx context.Context) error {
	return database.Migrate(ctx, c.Pool, c.Logger)
}

// Background is the detector schedule and retrieval worker of one process.
type Background struct {
	runner *detector.Runner
	cancel context.CancelFunc
	done   chan struct{}
}

// StartBackground schedules both end detectors and starts the retrieval worker.
func (c *Core) StartBackground() *Background {
	lc := c.Config.Lifecycle
	ceilings := detector.Ceilings{Adhoc: lc.AdhocCeiling, Safety: lc.SafetyCeiling}

	runner := detector.NewRunner(c.Logger)
	runner.Add(detector.NewCalendarDetector(c.Sessions, c.Finalizer, c.Calendar, lc.SafetyCeiling, c.Config.Google.CalendarRPS, c.Logger), lc.CalendarInterval)
	runner.Add(detector.NewDurationDetector(c.Sessions, c.Finalizer, ceilings, c.Logger), lc.DurationInterval)
	runner.Start()

	ctx, cancel := context.WithCancel(context.Background())
	processor := worker.NewRetrievalProcessor(c.Retriever, c.Queue, lastBackoff(c.Config.Retrieval.Backoff), c.Logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		processor.Run(ctx)
	}()
	c.Logger.Info("detectors and retrieval worker started")
	return &Background{runner: runner, cancel: cancel, done: done}
}

// Stop halts scheduling and the worker, then waits for in-flight finalize side effects.
func (b *Background) Stop(ctx context.Context, f *sessions.Finalizer) {
	b.runner.Stop(ctx)
	b.cancel()
	select {
	case <-b.done:
	case <-ctx.Done():
	}
	waited := make(chan struct{})
	go func() {
		f.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
	}
}

// Close releases the clients.
func (c *Core) Close() {
	if err := c.Redis.Close(); err != nil {
		c.Logger.Warn("redis close", zap.Error(err))
	}
	c.Pool.Close()
}

func lastBackoff(b []time.Duration) time.Duration {
	if len(b) == 0 || b[len(b)-1] <= 0 {
		return time.Minute
	}
	return b[len(b)-1]
}
