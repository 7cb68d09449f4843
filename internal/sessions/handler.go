package sessions

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tutorlive/backend/internal/middleware"
	"github.com/tutorlive/backend/pkg/response"
)

// StartRequest is the body for POST /classes/:id/sessions.
type StartRequest struct {
	// MeetingURL starts an ad-hoc session on an existing link; omit it to schedule a calendar meeting.
	MeetingURL *string `json:"meeting_url"`
}

// Handler handles live session HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a sessions handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func actor(c *gin.Context) (Actor, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		return Actor{}, false
	}
	return Actor{ID: id, Role: middleware.Role(c)}, true
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrClassNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrNotClassTutor):
		response.Forbidden(c, err.Error())
	case errors.Is(err, ErrInvalidMeetingURL):
		response.BadRequest(c, err.Error())
	case errors.Is(err, ErrLiveSessionExists):
		response.Conflict(c, err.Error())
	case errors.Is(err, ErrMeetingUnavailable):
		h.logger.Warn("meeting creation failed", zap.Error(err))
		response.BadGateway(c, ErrMeetingUnavailable.Error())
	default:
		h.logger.Error("session request failed", zap.String("route", c.FullPath()), zap.Error(err))
		response.Internal(c, "internal error")
	}
}

// Start handles POST /classes/:id/sessions (tutor).
func (h *Handler) Start(c *gin.Context) {
	classID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid class id")
		return
	}
	var req StartRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	a, ok := actor(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	s, err := h.svc.StartSession(c.Request.Context(), classID, a, req.MeetingURL)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, s)
}

// Current handles GET /classes/:id/sessions/current.
func (h *Handler) Current(c *gin.Context) {
	classID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid class id")
		return
	}
	cur, err := h.svc.GetCurrentSession(c.Request.Context(), classID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, cur)
}

// End handles POST /sessions/:id/end (class tutor or admin).
func (h *Handler) End(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	a, ok := actor(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	s, err := h.svc.EndSession(c.Request.Context(), sessionID, a)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, s)
}
