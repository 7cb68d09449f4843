package recordings

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tutorlive/backend/internal/models"
)

const replayColumns = `id, session_id, class_id, tutor_id, title, storage_url, file_name, file_size, view_count, expires_at, created_at`

// Repository handles replay persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a replays repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanReplay(row pgx.Row, extra ...any) (*models.Replay, error) {
	var rp models.Replay
	dest := append([]any{&rp.ID, &rp.SessionID, &rp.ClassID, &rp.TutorID, &rp.Title, &rp.StorageURL, &rp.FileName, &rp.FileSize, &rp.ViewCount, &rp.ExpiresAt, &rp.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &rp, nil
}

// Upsert creates the replay of a session or refreshes its file fields.
// It reports whether the row was newly inserted.
func (r *Repository) Upsert(ctx context.Context, rp *models.Replay) (bool, error) {
	const q = `INSERT INTO replays (session_id, class_id, tutor_id, title, storage_url, file_name, file_size, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id) DO UPDATE SET
			storage_url = EXCLUDED.storage_url,
			file_name = EXCLUDED.file_name,
			file_size = EXCLUDED.file_size
		RETURNING ` + replayColumns + `, (xmax = 0)`
	var inserted bool
	got, err := scanReplay(r.pool.QueryRow(ctx, q, rp.SessionID, rp.ClassID, rp.TutorID, rp.Title, rp.StorageURL, rp.FileName, rp.FileSize, rp.ExpiresAt), &inserted)
	if err != nil {
		return false, err
	}
	*rp = *got
	return inserted, nil
}

// GetByID returns a replay by id, or nil if missing.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Replay, error) {
	const q = `SELECT ` + replayColumns + ` FROM replays WHERE id = $1`
	rp, err := scanReplay(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rp, err
}

// ListByClass returns the visible replays of a class, newest first.
func (r *Repository) ListByClass(ctx context.Context, classID uuid.UUID, now time.Time) ([]models.Replay, error) {
	const q = `SELECT ` + replayColumns + ` FROM replays
		WHERE class_id = $1 AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, classID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := make([]models.Replay, 0)
	for rows.Next() {
		rp, err := scanReplay(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *rp)
	}
	return list, rows.Err()
}

// IncrementView bumps the view counter of a visible replay and returns the new count.
// It returns false when the replay does not exist or has expired.
func (r *Repository) IncrementView(ctx context.Context, id uuid.UUID, now time.Time) (int64, bool, error) {
	const q = `UPDATE replays SET view_count = view_count + 1
		WHERE id = $1 AND (expires_at IS NULL OR expires_at > $2)
		RETURNING view_count`
	var n int64
	err := r.pool.QueryRow(ctx, q, id, now).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}
