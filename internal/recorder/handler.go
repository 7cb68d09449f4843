package recorder

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tutorlive/backend/internal/middleware"
	"github.com/tutorlive/backend/internal/models"
	"github.com/tutorlive/backend/pkg/response"
)

// SessionGetter loads sessions.
type SessionGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
}

// AgentStatus is the response of GET /sessions/:id/recording/agent.
type AgentStatus struct {
	SessionID    uuid.UUID           `json:"session_id"`
	Status       models.AgentStatus  `json:"status"`
	Error        *string             `json:"error,omitempty"`
	Active       bool                `json:"active"`
	LiveState    *models.AgentStatus `json:"live_state,omitempty"`
	RecordingURL *string             `json:"recording_url,omitempty"`
}

// Handler exposes recording agent state.
type Handler struct {
	sessions SessionGetter
	manager  *Manager
	logger   *zap.Logger
}

// NewHandler creates a recorder handler. manager may be nil when agents run elsewhere.
func NewHandler(sessions SessionGetter, manager *Manager, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{sessions: sessions, manager: manager, logger: logger}
}

// Status handles GET /sessions/:id/recording/agent (tutor or admin).
func (h *Handler) Status(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	s, err := h.sessions.GetByID(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("get session failed", zap.Error(err), zap.String("session_id", id.String()))
		response.Internal(c, "failed to load session")
		return
	}
	if s == nil {
		response.NotFound(c, "session not found")
		return
	}
	userID, _ := middleware.UserID(c)
	if s.TutorID != userID && middleware.Role(c) != models.RoleAdmin {
		response.Forbidden(c, "only the class tutor can view the recording agent")
		return
	}

	out := AgentStatus{SessionID: s.ID, Status: models.AgentStatusIdle, Error: s.AgentError, RecordingURL: s.RecordingURL}
	if s.AgentStatus != nil {
		out.Status = *s.AgentStatus
	}
	if h.manager != nil {
		if a, ok := h.manager.Agent(s.ID); ok {
			st := a.State()
			out.Active = true
			out.LiveState = &st
		}
	}
	response.OK(c, out)
}
