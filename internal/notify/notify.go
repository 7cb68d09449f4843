// Package notify emits user-facing lifecycle notifications. Delivery beyond the
// realtime socket and the per-user inbox belongs to other services.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Event types.
const (
	TypeSessionStarted = "session_started"
	TypeSessionEnded   = "session_ended"
	TypeReplayReady    = "replay_ready"
)

const (
	inboxPrefix = "notifications:"
	// InboxSize caps the per-user inbox list.
	InboxSize = 50
)

// Event is one notification addressed to a user.
type Event struct {
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	SessionID uuid.UUID `json:"session_id"`
	ClassID   uuid.UUID `json:"class_id"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Dispatcher emits a notification to one user. Implementations must be safe for concurrent use.
type Dispatcher interface {
	Emit(ctx context.Context, userID uuid.UUID, ev Event) error
}

// Publisher pushes an event onto the user's realtime channel.
type Publisher interface {
	PublishUserEvent(ctx context.Context, userID uuid.UUID, event string, payload []byte) error
}

// RedisDispatcher stores each event in the user's inbox and publishes it for live sockets.
type RedisDispatcher struct {
	client *redis.Client
	pub    Publisher
	logger *zap.Logger
}

// NewRedisDispatcher creates a dispatcher. pub may be nil to only fill inboxes.
func NewRedisDispatcher(client *redis.Client, pub Publisher, logger *zap.Logger) *RedisDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisDispatcher{client: client, pub: pub, logger: logger}
}

func inboxKey(userID uuid.UUID) string { return inboxPrefix + userID.String() }

// Emit implements Dispatcher.
func (d *RedisDispatcher) Emit(ctx context.Context, userID uuid.UUID, ev Event) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	key := inboxKey(userID)
	pipe := d.client.TxPipeline()
	pipe.LPush(ctx, key, body)
	pipe.LTrim(ctx, key, 0, InboxSize-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}
	if d.pub != nil {
		if err := d.pub.PublishUserEvent(ctx, userID, ev.Type, body); err != nil {
			// The inbox already has it; sockets catch up on reconnect.
			d.logger.Warn("realtime publish failed", zap.String("user_id", userID.String()), zap.Error(err))
		}
	}
	return nil
}

// Inbox returns the user's most recent notifications, newest first.
func (d *RedisDispatcher) Inbox(ctx context.Context, userID uuid.UUID, limit int64) ([]Event, error) {
	if limit <= 0 || limit > InboxSize {
		limit = InboxSize
	}
	raws, err := d.client.LRange(ctx, inboxKey(userID), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read inbox: %w", err)
	}
	out := make([]Event, 0, len(raws))
	for _, raw := range raws {
		var ev Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Fanout emits ev to every recipient, logging per-recipient failures. It never stops early.
func Fanout(ctx context.Context, d Dispatcher, logger *zap.Logger, recipients []uuid.UUID, ev Event) int {
	sent := 0
	for _, id := range recipients {
		if err := d.Emit(ctx, id, ev); err != nil {
			logger.Warn("notification emit failed",
				zap.String("user_id", id.String()),
				zap.String("type", ev.Type),
				zap.String("session_id", ev.SessionID.String()),
				zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}
