package recorder

import (
	"context"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StopChannel carries session ids whose agents should stop.
const StopChannel = "recorder:stop"

// RedisStopSignal delivers agent stop requests to whichever process runs the agent.
type RedisStopSignal struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisStopSignal creates a stop signal over Redis pub/sub.
func NewRedisStopSignal(client *redis.Client, logger *zap.Logger) *RedisStopSignal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStopSignal{client: client, logger: logger}
}

// StopAgent publishes a stop request for the session.
func (r *RedisStopSignal) StopAgent(ctx context.Context, sessionID uuid.UUID) error {
	return r.client.Publish(ctx, StopChannel, sessionID.String()).Err()
}

// Listen forwards stop requests to m until ctx is done.
func (r *RedisStopSignal) Listen(ctx context.Context, m *Manager) error {
	sub := r.client.Subscribe(ctx, StopChannel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			id, err := uuid.Parse(msg.Payload)
			if err != nil {
				r.logger.Warn("bad stop payload", zap.String("payload", msg.Payload))
				continue
			}
			_ = m.StopAgent(ctx, id)
		}
	}
}
