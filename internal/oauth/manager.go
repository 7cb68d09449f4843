// Package oauth keeps each tutor's calendar credential usable: consent, refresh and disconnect.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"

	"github.com/tutorlive/backend/internal/models"
)

var (
	// ErrNotConnected means the owner never granted consent or disconnected.
	ErrNotConnected = errors.New("calendar account not connected")
	// ErrNoRefreshToken means the stored grant cannot be refreshed and consent must be repeated.
	ErrNoRefreshToken = errors.New("no refresh token stored")
	// ErrInvalidState means the consent callback state is unknown or expired.
	ErrInvalidState = errors.New("invalid or expired oauth state")
)

const (
	// expiryLeeway treats tokens about to expire as expired.
	expiryLeeway = time.Minute
	stateTTL     = 10 * time.Minute
)

// Store persists token sets.
type Store interface {
	Get(ctx context.Context, ownerID uuid.UUID) (*models.TokenSet, error)
	Save(ctx context.Context, ts *models.TokenSet) error
	Delete(ctx context.Context, ownerID uuid.UUID) error
}

// StateStore keeps short-lived consent states.
type StateStore interface {
	Put(ctx context.Context, state string, ownerID uuid.UUID, ttl time.Duration) error
	Take(ctx context.Context, state string) (uuid.UUID, error)
}

// GoogleConfig builds the OAuth client for calendar events access.
func GoogleConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gcal.CalendarEventsScope},
	}
}

// Manager hands out valid credentials, refreshing expired ones in place.
type Manager struct {
	cfg    *oauth2.Config
	store  Store
	states StateStore
	now    func() time.Time
	logger *zap.Logger
}

// NewManager creates a token manager.
func NewManager(cfg *oauth2.Config, store Store, states StateStore, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{cfg: cfg, store: store, states: states, now: time.Now, logger: logger}
}

func (m *Manager) load(ctx context.Context, ownerID uuid.UUID) (*models.TokenSet, error) {
	ts, err := m.store.Get(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}
	if ts == nil {
		return nil, ErrNotConnected
	}
	return ts, nil
}

// Valid returns an unexpired token set for owner, refreshing and persisting it first if needed.
func (m *Manager) Valid(ctx context.Context, ownerID uuid.UUID) (*models.TokenSet, error) {
	ts, err := m.load(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if !ts.Expired(m.now(), expiryLeeway) {
		return ts, nil
	}
	return m.refresh(ctx, ts)
}

// ForceRefresh refreshes regardless of the stored expiry, for tokens the vendor rejected early.
func (m *Manager) ForceRefresh(ctx context.Context, ownerID uuid.UUID) (*models.TokenSet, error) {
	ts, err := m.load(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return m.refresh(ctx, ts)
}

func (m *Manager) refresh(ctx context.Context, ts *models.TokenSet) (*models.TokenSet, error) {
	if ts.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}
	// An empty access token forces the token source to hit the token endpoint.
	tok, err := m.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: ts.RefreshToken}).Token()
	if err != nil {
		m.logger.Warn("token refresh failed", zap.String("owner_id", ts.OwnerID.String()), zap.Error(err))
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	next := &models.TokenSet{
		OwnerID:      ts.OwnerID,
		AccessToken:  tok.AccessToken,
		RefreshToken: ts.RefreshToken,
		Expiry:       tok.Expiry,
	}
	if tok.RefreshToken != "" {
		next.RefreshToken = tok.RefreshToken
	}
	if err := m.store.Save(ctx, next); err != nil {
		return nil, fmt.Errorf("persist refreshed token: %w", err)
	}
	m.logger.Debug("token refreshed", zap.String("owner_id", ts.OwnerID.String()), zap.Time("expiry", next.Expiry))
	return next, nil
}

// AuthURL starts consent for owner and returns the vendor URL to redirect to.
func (m *Manager) AuthURL(ctx context.Context, ownerID uuid.UUID) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("state: %w", err)
	}
	state := hex.EncodeToString(buf)
	if err := m.states.Put(ctx, state, ownerID, stateTTL); err != nil {
		return "", fmt.Errorf("store state: %w", err)
	}
	return m.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// Connect completes consent: validates state, exchanges the code and stores the token set.
func (m *Manager) Connect(ctx context.Context, state, code string) (uuid.UUID, error) {
	ownerID, err := m.states.Take(ctx, state)
	if err != nil {
		return uuid.Nil, err
	}
	tok, err := m.cfg.Exchange(ctx, code)
	if err != nil {
		return uuid.Nil, fmt.Errorf("exchange code: %w", err)
	}
	ts := &models.TokenSet{
		OwnerID:      ownerID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	if ts.RefreshToken == "" {
		// Re-consent without prompt=consent omits the refresh token; keep the stored one.
		if prev, err := m.store.Get(ctx, ownerID); err == nil && prev != nil {
			ts.RefreshToken = prev.RefreshToken
		}
	}
	if err := m.store.Save(ctx, ts); err != nil {
		return uuid.Nil, fmt.Errorf("save token: %w", err)
	}
	m.logger.Info("calendar account connected", zap.String("owner_id", ownerID.String()))
	return ownerID, nil
}

// Disconnect deletes the owner's token set.
func (m *Manager) Disconnect(ctx context.Context, ownerID uuid.UUID) error {
	if err := m.store.Delete(ctx, ownerID); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	m.logger.Info("calendar account disconnected", zap.String("owner_id", ownerID.String()))
	return nil
}
