package classes

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tutorlive/backend/internal/models"
)

// Repository reads the class roster and maintains the companion class_status record.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a classes repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TutorID returns the owning tutor of a class, or uuid.Nil if the class does not exist.
func (r *Repository) TutorID(ctx context.Context, classID uuid.UUID) (uuid.UUID, error) {
	var tutorID uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT tutor_id FROM classes WHERE id = $1`, classID).Scan(&tutorID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, nil
	}
	return tutorID, err
}

// Title returns the class title, or "" if the class does not exist.
func (r *Repository) Title(ctx context.Context, classID uuid.UUID) (string, error) {
	var title string
	err := r.pool.QueryRow(ctx, `SELECT title FROM classes WHERE id = $1`, classID).Scan(&title)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return title, err
}

// EnrolledLearners returns the learner ids currently enrolled in a class.
func (r *Repository) EnrolledLearners(ctx context.Context, classID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT learner_id FROM enrollments WHERE class_id = $1 ORDER BY enrolled_at`, classID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkLive sets the companion record to live.
func (r *Repository) MarkLive(ctx context.Context, classID uuid.UUID, at time.Time) error {
	const q = `INSERT INTO class_status (class_id, status, started_at, ended_at, updated_at)
		VALUES ($1, 'live', $2, NULL, NOW())
		ON CONFLICT (class_id) DO UPDATE SET status = 'live', started_at = EXCLUDED.started_at, ended_at = NULL, updated_at = NOW()`
	_, err := r.pool.Exec(ctx, q, classID, at)
	return err
}

// MarkCompleted sets the companion record to completed. It leaves the record
// alone when a session that started after at has already marked it live.
func (r *Repository) MarkCompleted(ctx context.Context, classID uuid.UUID, at time.Time) error {
	const q = `INSERT INTO class_status (class_id, status, ended_at, updated_at)
		VALUES ($1, 'completed', $2, NOW())
		ON CONFLICT (class_id) DO UPDATE SET status = 'completed', ended_at = EXCLUDED.ended_at, updated_at = NOW()
		WHERE class_status.started_at IS NULL OR class_status.started_at <= EXCLUDED.ended_at`
	_, err := r.pool.Exec(ctx, q, classID, at)
	return err
}

// GetStatus returns the companion record, or nil if none exists.
func (r *Repository) GetStatus(ctx context.Context, classID uuid.UUID) (*models.ClassStatus, error) {
	const q = `SELECT class_id, status, started_at, ended_at, updated_at FROM class_status WHERE class_id = $1`
	var s models.ClassStatus
	err := r.pool.QueryRow(ctx, q, classID).Scan(&s.ClassID, &s.Status, &s.StartedAt, &s.EndedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}
