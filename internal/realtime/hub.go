package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat, in seconds.
	PingInterval = 30
	PongWait     = 60
)

// Subscriber subscribes to a user's channel and invokes handler for incoming events.
type Subscriber interface {
	SubscribeUser(userID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub maintains user_id -> set of connections. Events arrive over Redis so that a
// notification emitted by any process reaches the user's sockets on every instance.
type Hub struct {
	users  map[uuid.UUID]map[string]*Client
	subs   map[uuid.UUID]func()
	mu     sync.RWMutex
	logger *zap.Logger
	sub    Subscriber
}

// NewHub creates a new WebSocket hub. sub may be nil for single-process delivery via SendToUser.
func NewHub(logger *zap.Logger, sub Subscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		users:  make(map[uuid.UUID]map[string]*Client),
		subs:   make(map[uuid.UUID]func()),
		logger: logger,
		sub:    sub,
	}
}

// Register adds a client. Starts the Redis subscription for the user on their first connection.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.users[c.UserID] == nil {
		h.users[c.UserID] = make(map[string]*Client)
		if h.sub != nil {
			userID := c.UserID
			cancel, err := h.sub.SubscribeUser(userID, func(event string, payload []byte) {
				h.SendToUser(userID, event, json.RawMessage(payload))
			})
			if err != nil {
				h.logger.Warn("user subscription failed", zap.String("user_id", userID.String()), zap.Error(err))
			} else {
				h.subs[userID] = cancel
			}
		}
	}
	h.users[c.UserID][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client connected", zap.String("client_id", c.ID), zap.String("user_id", c.UserID.String()))
}

// Unregister removes a client. Cancels the Redis subscription when the user's last socket closes.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.users[c.UserID]; ok {
		if _, present := m[c.ID]; present {
			delete(m, c.ID)
			close(c.send)
		}
		if len(m) == 0 {
			delete(h.users, c.UserID)
			if cancel, ok := h.subs[c.UserID]; ok {
				cancel()
				delete(h.subs, c.UserID)
			}
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client disconnected", zap.String("client_id", c.ID), zap.String("user_id", c.UserID.String()))
}

// SendToUser delivers a message to all local sockets of a user. Slow clients drop messages.
func (h *Hub) SendToUser(userID uuid.UUID, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return
		}
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.users[userID] {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// Connections returns the number of local sockets of a user.
func (h *Hub) Connections(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// Close cancels all Redis subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, cancel := range h.subs {
		cancel()
		delete(h.subs, id)
	}
}
