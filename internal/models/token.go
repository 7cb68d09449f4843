package models

import (
	"time"

	"github.com/google/uuid"
)

// TokenSet is one tutor's OAuth credential pair for the calendar and meeting vendor.
type TokenSet struct {
	OwnerID      uuid.UUID `json:"owner_id"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	Expiry       time.Time `json:"expiry"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Expired reports whether the access token is unusable at now, allowing leeway for clock skew and request latency.
func (t *TokenSet) Expired(now time.Time, leeway time.Duration) bool {
	if t.AccessToken == "" {
		return true
	}
	if t.Expiry.IsZero() {
		return false
	}
	return !now.Add(leeway).Before(t.Expiry)
}
