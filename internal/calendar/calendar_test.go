package calendar

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutorlive/backend/internal/models"
)

type fakeTokens struct {
	token      string
	validErr   error
	refreshErr error
	refreshes  int
}

func (f *fakeTokens) Valid(context.Context, uuid.UUID) (*models.TokenSet, error) {
	if f.validErr != nil {
		return nil, f.validErr
	}
	return &models.TokenSet{AccessToken: f.token}, nil
}

func (f *fakeTokens) ForceRefresh(context.Context, uuid.UUID) (*models.TokenSet, error) {
	f.refreshes++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	f.token = "fresh"
	return &models.TokenSet{AccessToken: f.token}, nil
}

// fakeAPI rejects every token except "fresh".
type fakeAPI struct {
	calls   []string
	deleted error
}

func (f *fakeAPI) GetEvent(_ context.Context, tok, eventID string) (*Event, error) {
	f.calls = append(f.calls, tok)
	if tok != "fresh" {
		return nil, ErrUnauthorized
	}
	return &Event{ID: eventID}, nil
}

func (f *fakeAPI) DeleteEvent(_ context.Context, tok, _ string) error {
	f.calls = append(f.calls, tok)
	return f.deleted
}

func (f *fakeAPI) CreateMeeting(_ context.Context, tok string, req MeetingRequest) (*Meeting, error) {
	f.calls = append(f.calls, tok)
	return &Meeting{EventID: "new", MeetingURL: "https://meet/x", Start: req.Start, End: req.End}, nil
}

func TestTutorCalendarRefreshesOnceOnUnauthorized(t *testing.T) {
	api := &fakeAPI{}
	tokens := &fakeTokens{token: "stale"}
	c := NewTutorCalendar(api, tokens, nil)

	ev, err := c.GetEvent(context.Background(), uuid.New(), "ev1")
	require.NoError(t, err)
	assert.Equal(t, "ev1", ev.ID)
	assert.Equal(t, []string{"stale", "fresh"}, api.calls)
	assert.Equal(t, 1, tokens.refreshes)
}

func TestTutorCalendarRefreshFailure(t *testing.T) {
	api := &fakeAPI{}
	tokens := &fakeTokens{token: "stale", refreshErr: errors.New("invalid_grant")}
	c := NewTutorCalendar(api, tokens, nil)

	_, err := c.GetEvent(context.Background(), uuid.New(), "ev1")
	assert.ErrorIs(t, err, ErrTokenUnavailable)
	assert.Len(t, api.calls, 1)
}

func TestTutorCalendarNoCredential(t *testing.T) {
	api := &fakeAPI{}
	notConnected := errors.New("not connected")
	c := NewTutorCalendar(api, &fakeTokens{validErr: notConnected}, nil)

	_, err := c.GetEvent(context.Background(), uuid.New(), "ev1")
	assert.ErrorIs(t, err, ErrTokenUnavailable)
	assert.ErrorIs(t, err, notConnected)
	assert.Empty(t, api.calls)
}

func TestTutorCalendarDeleteIgnoresMissingEvent(t *testing.T) {
	api := &fakeAPI{deleted: ErrEventNotFound}
	c := NewTutorCalendar(api, &fakeTokens{token: "fresh"}, nil)
	assert.NoError(t, c.DeleteEvent(context.Background(), uuid.New(), "gone"))
}
