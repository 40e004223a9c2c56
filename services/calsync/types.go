package calsync

import (
	"context"
	"time"
)

type EventType int

const (
	EventOpen EventType = iota
	EventClosed
	EventOther
)

// ParseEventType maps the portal's data-event-eventtype attribute.
// Anything unrecognized is EventOther, never an error.
func ParseEventType(s string) EventType {
	switch s {
	case "open":
		return EventOpen
	case "close":
		return EventClosed
	}
	return EventOther
}

func (t EventType) String() string {
	switch t {
	case EventOpen:
		return "open"
	case EventClosed:
		return "close"
	}
	return "other"
}

// RawEvent is one event as observed on the portal, before date
// normalization. Identity is Id; instances are scoped to a single
// extraction pass.
type RawEvent struct {
	Id          string
	CourseId    string
	Title       string
	Type        EventType
	OpenedText  string
	ClosesText  string
	CourseLabel string
	Link        string
}

// NormalizedEvent adds parsed instants. OpensAt <= ClosesAt is not
// guaranteed by the portal and is deliberately not enforced.
type NormalizedEvent struct {
	RawEvent
	OpensAt  time.Time
	ClosesAt time.Time
}

// Credential is the per-user secret material owned by the
// CredentialProvider; the pipeline only reads it.
type Credential struct {
	User           string
	AccessToken    string
	RefreshToken   string
	ExpiresAt      time.Time
	PortalPassword string
}

type CredentialProvider interface {
	Get(ctx context.Context, user string) (Credential, bool, error)
	Save(ctx context.Context, cred Credential) error
	// Refresh trades the refresh token for a new access token. It
	// does not persist anything: callers must Save the result before
	// using it.
	Refresh(ctx context.Context, cred Credential) (Credential, error)
}

// CalendarSink accepts normalized events for a user. Failures are
// logged by the caller and never retried within the same pass.
type CalendarSink interface {
	CreateEvent(ctx context.Context, user string, event NormalizedEvent) error
}
