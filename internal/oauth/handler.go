package oauth

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tutorlive/backend/internal/middleware"
	"github.com/tutorlive/backend/pkg/response"
)

// Handler serves the calendar consent flow.
type Handler struct {
	manager *Manager
	logger  *zap.Logger
}

// NewHandler creates an OAuth handler.
func NewHandler(manager *Manager, logger *zap.Logger) *Handler {
	return &Handler{manager: manager, logger: logger}
}

// Connect handles GET /oauth/google/connect and returns the consent URL.
func (h *Handler) Connect(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	url, err := h.manager.AuthURL(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("start consent", zap.Error(err))
		response.Internal(c, "failed to start consent")
		return
	}
	response.OK(c, gin.H{"auth_url": url})
}

// Callback handles GET /oauth/google/callback?state=&code=.
func (h *Handler) Callback(c *gin.Context) {
	if e := c.Query("error"); e != "" {
		response.BadRequest(c, "consent denied: "+e)
		return
	}
	state, code := c.Query("state"), c.Query("code")
	if state == "" || code == "" {
		response.BadRequest(c, "state and code required")
		return
	}
	ownerID, err := h.manager.Connect(c.Request.Context(), state, code)
	if err != nil {
		if errors.Is(err, ErrInvalidState) {
			response.BadRequest(c, err.Error())
			return
		}
		h.logger.Error("complete consent", zap.Error(err))
		response.BadGateway(c, "failed to connect calendar account")
		return
	}
	response.OK(c, gin.H{"connected": true, "owner_id": ownerID})
}

// Disconnect handles DELETE /oauth/google.
func (h *Handler) Disconnect(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	if err := h.manager.Disconnect(c.Request.Context(), userID); err != nil {
		h.logger.Error("disconnect", zap.Error(err))
		response.Internal(c, "failed to disconnect")
		return
	}
	response.NoContent(c)
}
