package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/tutorlive/backend/pkg/database"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Env       string `env:"ENV" envDefault:"development"`
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	AWS       AWSConfig
	Google    GoogleConfig
	Lifecycle LifecycleConfig
	Retrieval RetrievalConfig
	Recorder  RecorderConfig
	Replay    ReplayConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string        `env:"PORT" envDefault:"8080"`
	ReadTimeout        int           `env:"READ_TIMEOUT_SEC" envDefault:"30"`
	WriteTimeout       int           `env:"WRITE_TIMEOUT_SEC" envDefault:"30"`
	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000" envSeparator:","`
	CORSAllowedMethods []string      `env:"CORS_ALLOWED_METHODS" envDefault:"GET,POST,DELETE,OPTIONS" envSeparator:","`
	CORSAllowedHeaders []string      `env:"CORS_ALLOWED_HEADERS" envDefault:"Content-Type,Authorization" envSeparator:","`
	CORSMaxAge         time.Duration `env:"CORS_MAX_AGE" envDefault:"24h"`
	// RunDetectors runs the end detectors and retrieval worker inside the API process.
	RunDetectors bool `env:"SERVER_RUN_DETECTORS" envDefault:"true"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string `env:"DATABASE_URL"` // if set, used as-is
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
	DBName   string `env:"DB_NAME" envDefault:"tutorlive"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
	// Detectors, agents and HTTP handlers share one pool.
	MaxConns        int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE" envDefault:"5m"`
	ConnectAttempts int           `env:"DB_CONNECT_ATTEMPTS" envDefault:"5"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// JWTConfig holds the settings used to verify API bearer tokens issued by the auth service.
type JWTConfig struct {
	Secret      string `env:"JWT_SECRET" envDefault:"change-me-in-production"`
	ExpireHours int    `env:"JWT_EXPIRE_HOURS" envDefault:"24"`
}

// AWSConfig holds AWS credentials and the recordings bucket.
type AWSConfig struct {
	Region               string `env:"AWS_REGION" envDefault:"us-east-1"`
	AccessKeyID          string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey      string `env:"AWS_SECRET_ACCESS_KEY"`
	RecordingsBucket     string `env:"AWS_S3_RECORDINGS_BUCKET" envDefault:"tutorlive-recordings"`
	RecordingsPrefix     string `env:"AWS_S3_RECORDINGS_PREFIX" envDefault:"recordings"`
	PresignExpireMinutes int    `env:"AWS_PRESIGN_EXPIRE_MINUTES" envDefault:"60"`
}

// GoogleConfig holds the OAuth client used for calendar access on behalf of tutors.
type GoogleConfig struct {
	ClientID     string `env:"GOOGLE_CLIENT_ID"`
	ClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	RedirectURL  string `env:"GOOGLE_REDIRECT_URL" envDefault:"http://localhost:8080/oauth/google/callback"`
	CalendarID   string `env:"GOOGLE_CALENDAR_ID" envDefault:"primary"`
	// TokenEncryptionKey is a hex-encoded 32-byte key; empty stores tokens unsealed.
	TokenEncryptionKey string `env:"TOKEN_ENCRYPTION_KEY"`
	// CalendarRPS bounds calendar API calls made by the calendar detector.
	CalendarRPS float64 `env:"GOOGLE_CALENDAR_RPS" envDefault:"5"`
}

// LifecycleConfig holds the end-detection schedule and ceilings.
type LifecycleConfig struct {
	CalendarInterval     time.Duration `env:"CALENDAR_DETECTOR_INTERVAL" envDefault:"10s"`
	DurationInterval     time.Duration `env:"DURATION_DETECTOR_INTERVAL" envDefault:"5s"`
	AdhocCeiling         time.Duration `env:"ADHOC_SESSION_CEILING" envDefault:"2h"`
	SafetyCeiling        time.Duration `env:"SAFETY_SESSION_CEILING" envDefault:"4h"`
	RetrievalDelay       time.Duration `env:"RETRIEVAL_DELAY" envDefault:"30s"`
	RecentWindow         time.Duration `env:"RECENTLY_COMPLETED_WINDOW" envDefault:"15m"`
	DefaultMeetingLength time.Duration `env:"DEFAULT_MEETING_LENGTH" envDefault:"1h"`
}

// RetrievalConfig holds the recording search backoff.
type RetrievalConfig struct {
	Backoff       []time.Duration `env:"RETRIEVAL_BACKOFF" envDefault:"0s,15s,30s,60s" envSeparator:","`
	WindowPadding time.Duration   `env:"RETRIEVAL_WINDOW_PADDING" envDefault:"15m"`
}

// RecorderConfig holds the recording agent (headless browser + ffmpeg) settings.
type RecorderConfig struct {
	Enabled         bool          `env:"RECORDER_ENABLED" envDefault:"true"`
	OutputDir       string        `env:"RECORDING_OUTPUT_DIR"` // empty = os.TempDir()
	ProfileDir      string        `env:"RECORDER_PROFILE_DIR" envDefault:"/var/lib/tutorlive/profiles"`
	ChromePath      string        `env:"RECORDER_CHROME_PATH"`
	Headless        bool          `env:"RECORDER_HEADLESS" envDefault:"false"`
	FFmpegPath      string        `env:"RECORDER_FFMPEG_PATH" envDefault:"ffmpeg"`
	Display         string        `env:"RECORDER_DISPLAY" envDefault:":99"`
	AudioSource     string        `env:"RECORDER_AUDIO_SOURCE" envDefault:"default"`
	JoinTimeout     time.Duration `env:"RECORDER_JOIN_TIMEOUT" envDefault:"45s"`
	MonitorInterval time.Duration `env:"RECORDER_MONITOR_INTERVAL" envDefault:"10s"`
	MaxDuration     time.Duration `env:"RECORDER_MAX_DURATION" envDefault:"4h"`
	JoinSelectors   []string      `env:"RECORDER_JOIN_SELECTORS" envDefault:"button[jsname='Qx7uuf'],button[aria-label*='Join now'],button[aria-label*='Ask to join']" envSeparator:","`
	LeaveSelectors  []string      `env:"RECORDER_LEAVE_SELECTORS" envDefault:"button[aria-label*='Leave call'],button[jsname='CQylAd']" envSeparator:","`
}

// ReplayConfig holds replay visibility settings.
type ReplayConfig struct {
	// TTL bounds how long a replay stays listed; zero keeps replays forever.
	TTL time.Duration `env:"REPLAY_TTL" envDefault:"0s"`
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// PoolOptions returns the pgx pool tuning.
func (c DatabaseConfig) PoolOptions() database.PoolOptions {
	return database.PoolOptions{MaxConns: c.MaxConns, MaxConnIdleTime: c.MaxConnIdleTime, ConnectAttempts: c.ConnectAttempts}
}

// IsProduction reports whether ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// Validate rejects combinations that would make the lifecycle manager unsafe.
func (c *Config) Validate() error {
	if c.Lifecycle.AdhocCeiling <= 0 || c.Lifecycle.SafetyCeiling <= 0 {
		return fmt.Errorf("session ceilings must be positive")
	}
	if c.Lifecycle.AdhocCeiling > c.Lifecycle.SafetyCeiling {
		return fmt.Errorf("ADHOC_SESSION_CEILING (%s) exceeds SAFETY_SESSION_CEILING (%s)", c.Lifecycle.AdhocCeiling, c.Lifecycle.SafetyCeiling)
	}
	if c.Lifecycle.CalendarInterval <= 0 || c.Lifecycle.DurationInterval <= 0 {
		return fmt.Errorf("detector intervals must be positive")
	}
	if len(c.Retrieval.Backoff) == 0 {
		return fmt.Errorf("RETRIEVAL_BACKOFF must list at least one delay")
	}
	if c.IsProduction() && c.JWT.Secret == "change-me-in-production" {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	return nil
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
