package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tutorlive/backend/internal/models"
)

const uniqueViolation = "23505"

const sessionColumns = `id, class_id, tutor_id, meeting_url, calendar_event_id, status, start_time, end_time,
	enrolled_learner_ids, recording_url, recording_id, agent_status, agent_error, created_at, updated_at`

// Repository handles live_sessions persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a sessions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var s models.Session
	err := row.Scan(&s.ID, &s.ClassID, &s.TutorID, &s.MeetingURL, &s.CalendarEventID, &s.Status, &s.StartTime, &s.EndTime,
		&s.EnrolledLearnerIDs, &s.RecordingURL, &s.RecordingID, &s.AgentStatus, &s.AgentError, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// Create inserts a live session. Returns ErrLiveSessionExists if the class already has one.
func (r *Repository) Create(ctx context.Context, s *models.Session) error {
	q := `INSERT INTO live_sessions (id, class_id, tutor_id, meeting_url, calendar_event_id, status, start_time, enrolled_learner_ids)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, 'live', $5, $6)
		RETURNING ` + sessionColumns
	learners := s.EnrolledLearnerIDs
	if learners == nil {
		learners = []uuid.UUID{}
	}
	created, err := scanSession(r.pool.QueryRow(ctx, q, s.ClassID, s.TutorID, s.MeetingURL, s.CalendarEventID, s.StartTime, learners))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrLiveSessionExists
		}
		return fmt.Errorf("insert session: %w", err)
	}
	*s = *created
	return nil
}

// GetByID returns a session by ID, or nil if not found.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	return scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM live_sessions WHERE id = $1`, id))
}

// GetLiveByClass returns the live session of a class, or nil.
func (r *Repository) GetLiveByClass(ctx context.Context, classID uuid.UUID) (*models.Session, error) {
	return scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM live_sessions WHERE class_id = $1 AND status = 'live'`, classID))
}

// GetLastEndedByClass returns the most recently ended session of a class that ended at or after since, or nil.
func (r *Repository) GetLastEndedByClass(ctx context.Context, classID uuid.UUID, since time.Time) (*models.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM live_sessions
		WHERE class_id = $1 AND status = 'ended' AND end_time >= $2
		ORDER BY end_time DESC LIMIT 1`
	return scanSession(r.pool.QueryRow(ctx, q, classID, since))
}

// ListLive returns every live session, oldest first.
func (r *Repository) ListLive(ctx context.Context) ([]models.Session, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+sessionColumns+` FROM live_sessions WHERE status = 'live' ORDER BY start_time`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

// End performs the single guarded live → ended transition.
// Returns nil, nil when the session was not live, which means another caller already ended it.
func (r *Repository) End(ctx context.Context, id uuid.UUID, at time.Time) (*models.Session, error) {
	q := `UPDATE live_sessions SET status = 'ended', end_time = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'live'
		RETURNING ` + sessionColumns
	return scanSession(r.pool.QueryRow(ctx, q, id, at))
}

// SetRecording records the published recording link and storage file id.
func (r *Repository) SetRecording(ctx context.Context, id uuid.UUID, url, fileID string) error {
	const q = `UPDATE live_sessions SET recording_url = $2, recording_id = $3, updated_at = NOW() WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, url, fileID)
	return err
}

// SetAgentStatus records the recording agent state and, for the error state, its message.
func (r *Repository) SetAgentStatus(ctx context.Context, id uuid.UUID, status models.AgentStatus, agentErr *string) error {
	const q = `UPDATE live_sessions SET agent_status = $2, agent_error = $3, updated_at = NOW() WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, status, agentErr)
	return err
}
