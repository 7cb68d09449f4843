package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tutorlive/backend/internal/models"
)

// Repository persists oauth_tokens, sealing the secrets when a Sealer is set.
type Repository struct {
	pool   *pgxpool.Pool
	sealer *Sealer
}

// NewRepository creates a token repository. sealer may be nil.
func NewRepository(pool *pgxpool.Pool, sealer *Sealer) *Repository {
	return &Repository{pool: pool, sealer: sealer}
}

// Get returns the token set of an owner, or nil if none is stored.
func (r *Repository) Get(ctx context.Context, ownerID uuid.UUID) (*models.TokenSet, error) {
	const q = `SELECT owner_id, access_token, refresh_token, expiry, updated_at FROM oauth_tokens WHERE owner_id = $1`
	var ts models.TokenSet
	var access, refresh string
	var expiry *time.Time
	err := r.pool.QueryRow(ctx, q, ownerID).Scan(&ts.OwnerID, &access, &refresh, &expiry, &ts.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if ts.AccessToken, err = r.sealer.Open(access); err != nil {
		return nil, fmt.Errorf("access token: %w", err)
	}
	if ts.RefreshToken, err = r.sealer.Open(refresh); err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if expiry != nil {
		ts.Expiry = *expiry
	}
	return &ts, nil
}

// Save upserts a token set. Concurrent refreshes are last-writer-wins.
func (r *Repository) Save(ctx context.Context, ts *models.TokenSet) error {
	access, err := r.sealer.Seal(ts.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := r.sealer.Seal(ts.RefreshToken)
	if err != nil {
		return err
	}
	var expiry interface{}
	if !ts.Expiry.IsZero() {
		expiry = ts.Expiry
	}
	const q = `INSERT INTO oauth_tokens (owner_id, access_token, refresh_token, expiry, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (owner_id) DO UPDATE SET access_token = EXCLUDED.access_token, refresh_token = EXCLUDED.refresh_token,
			expiry = EXCLUDED.expiry, updated_at = NOW()
		RETURNING updated_at`
	return r.pool.QueryRow(ctx, q, ts.OwnerID, access, refresh, expiry).Scan(&ts.UpdatedAt)
}

// Delete removes an owner's tokens.
func (r *Repository) Delete(ctx context.Context, ownerID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM oauth_tokens WHERE owner_id = $1`, ownerID)
	return err
}
