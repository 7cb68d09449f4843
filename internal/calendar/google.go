package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Google implements API with Google Calendar v3. Each call builds a service
// bound to the caller's access token; refresh is handled by TutorCalendar.
type Google struct {
	calendarID string
	opts       []option.ClientOption
}

// NewGoogle creates a Google Calendar client for calendarID ("primary" for the tutor's own calendar).
func NewGoogle(calendarID string, opts ...option.ClientOption) *Google {
	if calendarID == "" {
		calendarID = "primary"
	}
	return &Google{calendarID: calendarID, opts: opts}
}

func (g *Google) service(ctx context.Context, accessToken string) (*gcal.Service, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, g.opts...)
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar service: %w", err)
	}
	return svc, nil
}

// GetEvent implements API.
func (g *Google) GetEvent(ctx context.Context, accessToken, eventID string) (*Event, error) {
	svc, err := g.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	ev, err := svc.Events.Get(g.calendarID, eventID).Context(ctx).Do()
	if err != nil {
		return nil, mapError(err)
	}
	return toEvent(ev)
}

// DeleteEvent implements API.
func (g *Google) DeleteEvent(ctx context.Context, accessToken, eventID string) error {
	svc, err := g.service(ctx, accessToken)
	if err != nil {
		return err
	}
	if err := svc.Events.Delete(g.calendarID, eventID).SendUpdates("all").Context(ctx).Do(); err != nil {
		return mapError(err)
	}
	return nil
}

// CreateMeeting implements API. The event gets a Meet conference link.
func (g *Google) CreateMeeting(ctx context.Context, accessToken string, req MeetingRequest) (*Meeting, error) {
	svc, err := g.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	ev := &gcal.Event{
		Summary:     req.Title,
		Description: req.Description,
		Start:       &gcal.EventDateTime{DateTime: req.Start.Format(time.RFC3339)},
		End:         &gcal.EventDateTime{DateTime: req.End.Format(time.RFC3339)},
		ConferenceData: &gcal.ConferenceData{
			CreateRequest: &gcal.CreateConferenceRequest{
				RequestId:             uuid.NewString(),
				ConferenceSolutionKey: &gcal.ConferenceSolutionKey{Type: "hangoutsMeet"},
			},
		},
	}
	created, err := svc.Events.Insert(g.calendarID, ev).ConferenceDataVersion(1).Context(ctx).Do()
	if err != nil {
		return nil, mapError(err)
	}
	parsed, err := toEvent(created)
	if err == nil && parsed.MeetingURL == "" {
		err = fmt.Errorf("calendar event %s has no conference link", created.Id)
	}
	if err != nil {
		// Remove the event so it does not linger on the tutor's calendar.
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if derr := svc.Events.Delete(g.calendarID, created.Id).Context(dctx).Do(); derr != nil {
			err = fmt.Errorf("%w (event %s left behind: %v)", err, created.Id, mapError(derr))
		}
		return nil, err
	}
	return &Meeting{EventID: parsed.ID, MeetingURL: parsed.MeetingURL, Start: parsed.Start, End: parsed.End}, nil
}

func mapError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusNotFound, http.StatusGone:
			return fmt.Errorf("%w: %v", ErrEventNotFound, err)
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
	}
	return err
}

func toEvent(ev *gcal.Event) (*Event, error) {
	out := &Event{ID: ev.Id, Status: ev.Status, MeetingURL: meetingLink(ev)}
	var err error
	if out.Start, err = parseEventTime(ev.Start); err != nil {
		return nil, fmt.Errorf("event %s start: %w", ev.Id, err)
	}
	if out.End, err = parseEventTime(ev.End); err != nil {
		return nil, fmt.Errorf("event %s end: %w", ev.Id, err)
	}
	return out, nil
}

// parseEventTime reads a timed (RFC3339) or all-day (date only) event boundary.
func parseEventTime(dt *gcal.EventDateTime) (time.Time, error) {
	if dt == nil {
		return time.Time{}, nil
	}
	if dt.DateTime != "" {
		return time.Parse(time.RFC3339, dt.DateTime)
	}
	if dt.Date != "" {
		loc := time.UTC
		if dt.TimeZone != "" {
			if l, err := time.LoadLocation(dt.TimeZone); err == nil {
				loc = l
			}
		}
		return time.ParseInLocation("2006-01-02", dt.Date, loc)
	}
	return time.Time{}, nil
}

func meetingLink(ev *gcal.Event) string {
	if ev.HangoutLink != "" {
		return ev.HangoutLink
	}
	if ev.ConferenceData != nil {
		for _, ep := range ev.ConferenceData.EntryPoints {
			if ep.EntryPointType == "video" && ep.Uri != "" {
				return ep.Uri
			}
		}
	}
	return ""
}
