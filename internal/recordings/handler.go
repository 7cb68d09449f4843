package recordings

import (
	"context"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tutorlive/backend/internal/middleware"
	"github.com/tutorlive/backend/internal/models"
	"github.com/tutorlive/backend/pkg/queue"
	"github.com/tutorlive/backend/pkg/response"
)

// ReplayReader serves replays to viewers.
type ReplayReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Replay, error)
	ListByClass(ctx context.Context, classID uuid.UUID, now time.Time) ([]models.Replay, error)
	IncrementView(ctx context.Context, id uuid.UUID, now time.Time) (int64, bool, error)
}

// Roster reads class ownership and enrollment for access checks.
type Roster interface {
	TutorID(ctx context.Context, classID uuid.UUID) (uuid.UUID, error)
	EnrolledLearners(ctx context.Context, classID uuid.UUID) ([]uuid.UUID, error)
}

// Scheduler enqueues retrieval jobs.
type Scheduler interface {
	EnqueueRetrieval(ctx context.Context, payload queue.RetrievalPayload, delay time.Duration) error
}

// Handler handles replay and retrieval HTTP endpoints.
type Handler struct {
	replays  ReplayReader
	roster   Roster
	sessions SessionGetter
	jobs     Scheduler
	now      func() time.Time
	logger   *zap.Logger
}

// NewHandler creates a recordings handler.
func NewHandler(replays ReplayReader, roster Roster, sessions SessionGetter, jobs Scheduler, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{replays: replays, roster: roster, sessions: sessions, jobs: jobs, now: time.Now, logger: logger}
}

// canView reports whether the caller is the tutor, an enrolled learner, or an admin.
func (h *Handler) canView(c *gin.Context, classID uuid.UUID) (bool, error) {
	userID, _ := middleware.UserID(c)
	if middleware.Role(c) == models.RoleAdmin {
		return true, nil
	}
	ctx := c.Request.Context()
	tutorID, err := h.roster.TutorID(ctx, classID)
	if err != nil {
		return false, err
	}
	if tutorID == userID {
		return true, nil
	}
	learners, err := h.roster.EnrolledLearners(ctx, classID)
	if err != nil {
		return false, err
	}
	return slices.Contains(learners, userID), nil
}

// ListByClass handles GET /classes/:id/replays.
func (h *Handler) ListByClass(c *gin.Context) {
	classID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid class id")
		return
	}
	ok, err := h.canView(c, classID)
	if err != nil {
		h.logger.Error("replay access check failed", zap.Error(err), zap.String("class_id", classID.String()))
		response.Internal(c, "failed to list replays")
		return
	}
	if !ok {
		response.Forbidden(c, "not enrolled in this class")
		return
	}
	list, err := h.replays.ListByClass(c.Request.Context(), classID, h.now())
	if err != nil {
		h.logger.Error("list replays failed", zap.Error(err), zap.String("class_id", classID.String()))
		response.Internal(c, "failed to list replays")
		return
	}
	response.OK(c, list)
}

// View handles POST /replays/:id/view.
func (h *Handler) View(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid replay id")
		return
	}
	rp, err := h.replays.GetByID(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("get replay failed", zap.Error(err), zap.String("replay_id", id.String()))
		response.Internal(c, "failed to load replay")
		return
	}
	if rp == nil || rp.Expired(h.now()) {
		response.NotFound(c, "replay not found")
		return
	}
	ok, err := h.canView(c, rp.ClassID)
	if err != nil || !ok {
		response.Forbidden(c, "not enrolled in this class")
		return
	}
	n, found, err := h.replays.IncrementView(c.Request.Context(), id, h.now())
	if err != nil {
		h.logger.Error("increment view failed", zap.Error(err), zap.String("replay_id", id.String()))
		response.Internal(c, "failed to record view")
		return
	}
	if !found {
		response.NotFound(c, "replay not found")
		return
	}
	response.OK(c, gin.H{"view_count": n, "storage_url": rp.StorageURL})
}

// Retrieve handles POST /sessions/:id/recording/retrieve. It re-runs retrieval for an ended session.
func (h *Handler) Retrieve(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	s, err := h.sessions.GetByID(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Error("get session failed", zap.Error(err), zap.String("session_id", sessionID.String()))
		response.Internal(c, "failed to load session")
		return
	}
	if s == nil {
		response.NotFound(c, "session not found")
		return
	}
	userID, _ := middleware.UserID(c)
	if s.TutorID != userID && middleware.Role(c) != models.RoleAdmin {
		response.Forbidden(c, "only the class tutor can retrieve recordings")
		return
	}
	if s.Live() {
		response.Conflict(c, "session is still live")
		return
	}
	payload := queue.RetrievalPayload{SessionID: s.ID, Reason: "manual"}
	if err := h.jobs.EnqueueRetrieval(c.Request.Context(), payload, 0); err != nil {
		h.logger.Error("enqueue retrieval failed", zap.Error(err), zap.String("session_id", s.ID.String()))
		response.Internal(c, "failed to schedule retrieval")
		return
	}
	response.Accepted(c, gin.H{"session_id": s.ID, "status": "scheduled"})
}
