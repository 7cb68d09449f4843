package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/tutorlive/backend/internal/models"
)

type memStore struct {
	mu     sync.Mutex
	tokens map[uuid.UUID]models.TokenSet
	saves  int
}

func newMemStore() *memStore { return &memStore{tokens: make(map[uuid.UUID]models.TokenSet)} }

func (s *memStore) Get(_ context.Context, id uuid.UUID) (*models.TokenSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.tokens[id]
	if !ok {
		return nil, nil
	}
	return &ts, nil
}

func (s *memStore) Save(_ context.Context, ts *models.TokenSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.tokens[ts.OwnerID] = *ts
	return nil
}

func (s *memStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, id)
	return nil
}

type memStates struct {
	m map[string]uuid.UUID
}

func (s *memStates) Put(_ context.Context, state string, id uuid.UUID, _ time.Duration) error {
	if s.m == nil {
		s.m = make(map[string]uuid.UUID)
	}
	s.m[state] = id
	return nil
}

func (s *memStates) Take(_ context.Context, state string) (uuid.UUID, error) {
	id, ok := s.m[state]
	if !ok {
		return uuid.Nil, ErrInvalidState
	}
	delete(s.m, state)
	return id, nil
}

// tokenServer answers refresh and code exchange requests.
func tokenServer(t *testing.T, status int, body map[string]interface{}) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	hits := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv, hits
}

func newTestManager(tokenURL string, store Store, states StateStore, now time.Time) *Manager {
	cfg := &oauth2.Config{
		ClientID:     "cid",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost/callback",
		Endpoint:     oauth2.Endpoint{AuthURL: "https://accounts.example/auth", TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams},
	}
	m := NewManager(cfg, store, states, nil)
	m.now = func() time.Time { return now }
	return m
}

func TestManagerValid(t *testing.T) {
	now := time.Now()
	owner := uuid.New()

	t.Run("returns unexpired token without refresh", func(t *testing.T) {
		srv, hits := tokenServer(t, http.StatusOK, map[string]interface{}{"access_token": "new", "token_type": "Bearer", "expires_in": 3600})
		store := newMemStore()
		store.tokens[owner] = models.TokenSet{OwnerID: owner, AccessToken: "cur", RefreshToken: "r", Expiry: now.Add(time.Hour)}

		ts, err := newTestManager(srv.URL, store, &memStates{}, now).Valid(context.Background(), owner)
		require.NoError(t, err)
		assert.Equal(t, "cur", ts.AccessToken)
		assert.Zero(t, hits.Load())
	})

	t.Run("refreshes and persists expired token keeping refresh token", func(t *testing.T) {
		srv, hits := tokenServer(t, http.StatusOK, map[string]interface{}{"access_token": "new", "token_type": "Bearer", "expires_in": 3600})
		store := newMemStore()
		store.tokens[owner] = models.TokenSet{OwnerID: owner, AccessToken: "old", RefreshToken: "r1", Expiry: now.Add(-time.Minute)}

		ts, err := newTestManager(srv.URL, store, &memStates{}, now).Valid(context.Background(), owner)
		require.NoError(t, err)
		assert.Equal(t, "new", ts.AccessToken)
		assert.Equal(t, "r1", ts.RefreshToken)
		assert.Equal(t, int32(1), hits.Load())
		assert.Equal(t, "new", store.tokens[owner].AccessToken)
	})

	t.Run("treats token inside leeway as expired", func(t *testing.T) {
		srv, hits := tokenServer(t, http.StatusOK, map[string]interface{}{"access_token": "new", "token_type": "Bearer", "refresh_token": "r2", "expires_in": 3600})
		store := newMemStore()
		store.tokens[owner] = models.TokenSet{OwnerID: owner, AccessToken: "old", RefreshToken: "r1", Expiry: now.Add(30 * time.Second)}

		ts, err := newTestManager(srv.URL, store, &memStates{}, now).Valid(context.Background(), owner)
		require.NoError(t, err)
		assert.Equal(t, int32(1), hits.Load())
		assert.Equal(t, "r2", ts.RefreshToken)
	})

	t.Run("refresh failure surfaces error and leaves store", func(t *testing.T) {
		srv, _ := tokenServer(t, http.StatusBadRequest, map[string]interface{}{"error": "invalid_grant"})
		store := newMemStore()
		store.tokens[owner] = models.TokenSet{OwnerID: owner, AccessToken: "old", RefreshToken: "r1", Expiry: now.Add(-time.Minute)}

		_, err := newTestManager(srv.URL, store, &memStates{}, now).Valid(context.Background(), owner)
		assert.Error(t, err)
		assert.Equal(t, "old", store.tokens[owner].AccessToken)
		assert.Zero(t, store.saves)
	})

	t.Run("not connected", func(t *testing.T) {
		_, err := newTestManager("http://unused", newMemStore(), &memStates{}, now).Valid(context.Background(), owner)
		assert.ErrorIs(t, err, ErrNotConnected)
	})

	t.Run("no refresh token", func(t *testing.T) {
		store := newMemStore()
		store.tokens[owner] = models.TokenSet{OwnerID: owner, AccessToken: "old", Expiry: now.Add(-time.Minute)}
		_, err := newTestManager("http://unused", store, &memStates{}, now).Valid(context.Background(), owner)
		assert.ErrorIs(t, err, ErrNoRefreshToken)
	})
}

func TestManagerForceRefresh(t *testing.T) {
	now := time.Now()
	owner := uuid.New()
	srv, hits := tokenServer(t, http.StatusOK, map[string]interface{}{"access_token": "new", "token_type": "Bearer", "expires_in": 3600})
	store := newMemStore()
	store.tokens[owner] = models.TokenSet{OwnerID: owner, AccessToken: "cur", RefreshToken: "r", Expiry: now.Add(time.Hour)}

	ts, err := newTestManager(srv.URL, store, &memStates{}, now).ForceRefresh(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, "new", ts.AccessToken)
	assert.Equal(t, int32(1), hits.Load())
}

func TestConsentFlow(t *testing.T) {
	now := time.Now()
	owner := uuid.New()
	srv, _ := tokenServer(t, http.StatusOK, map[string]interface{}{"access_token": "a", "token_type": "Bearer", "expires_in": 3600})
	store := newMemStore()
	store.tokens[owner] = models.TokenSet{OwnerID: owner, AccessToken: "prev", RefreshToken: "keep"}
	states := &memStates{}
	m := newTestManager(srv.URL, store, states, now)

	authURL, err := m.AuthURL(context.Background(), owner)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(authURL, "https://accounts.example/auth?"))
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)
	assert.Equal(t, "offline", u.Query().Get("access_type"))

	got, err := m.Connect(context.Background(), state, "code")
	require.NoError(t, err)
	assert.Equal(t, owner, got)
	assert.Equal(t, "a", store.tokens[owner].AccessToken)
	assert.Equal(t, "keep", store.tokens[owner].RefreshToken)

	_, err = m.Connect(context.Background(), state, "code")
	assert.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, m.Disconnect(context.Background(), owner))
	_, err = m.Valid(context.Background(), owner)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSealer(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		s, err := NewSealer(strings.Repeat("ab", 32))
		require.NoError(t, err)
		sealed, err := s.Seal("ya29.secret")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(sealed, sealedPrefix))
		assert.NotContains(t, sealed, "ya29")

		plain, err := s.Open(sealed)
		require.NoError(t, err)
		assert.Equal(t, "ya29.secret", plain)
	})

	t.Run("nonces differ", func(t *testing.T) {
		s, err := NewSealer(strings.Repeat("01", 32))
		require.NoError(t, err)
		a, _ := s.Seal("x")
		b, _ := s.Seal("x")
		assert.NotEqual(t, a, b)
	})

	t.Run("nil sealer passes through", func(t *testing.T) {
		s, err := NewSealer("")
		require.NoError(t, err)
		assert.Nil(t, s)
		v, err := s.Seal("plain")
		require.NoError(t, err)
		assert.Equal(t, "plain", v)
		v, err = s.Open("plain")
		require.NoError(t, err)
		assert.Equal(t, "plain", v)
	})

	t.Run("rejects bad key and tampering", func(t *testing.T) {
		_, err := NewSealer("abcd")
		assert.Error(t, err)

		s, err := NewSealer(strings.Repeat("cd", 32))
		require.NoError(t, err)
		sealed, _ := s.Seal("secret")
		other, _ := NewSealer(strings.Repeat("ef", 32))
		_, err = other.Open(sealed)
		assert.Error(t, err)
	})
}
