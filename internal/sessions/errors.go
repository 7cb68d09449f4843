package sessions

import "errors"

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrClassNotFound      = errors.New("class not found")
	ErrNotClassTutor      = errors.New("only the class tutor can do this")
	ErrLiveSessionExists  = errors.New("class already has a live session")
	ErrInvalidMeetingURL  = errors.New("meeting_url must be an http(s) URL")
	ErrMeetingUnavailable = errors.New("could not create a calendar meeting")
)
