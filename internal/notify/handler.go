package notify

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tutorlive/backend/internal/middleware"
	"github.com/tutorlive/backend/pkg/response"
)

// Handler serves the notification inbox.
type Handler struct {
	inbox  *RedisDispatcher
	logger *zap.Logger
}

// NewHandler creates the inbox handler.
func NewHandler(inbox *RedisDispatcher, logger *zap.Logger) *Handler {
	return &Handler{inbox: inbox, logger: logger}
}

// List handles GET /notifications?limit=.
func (h *Handler) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "20"), 10, 64)
	events, err := h.inbox.Inbox(c.Request.Context(), userID, limit)
	if err != nil {
		h.logger.Error("read inbox", zap.Error(err))
		response.Internal(c, "failed to load notifications")
		return
	}
	response.OK(c, events)
}
