package gcal

import (
	"context"
	"fmt"
	"lmsync-backend/lib/telemetry"
	"lmsync-backend/services/calsync"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/calsync/gcal")

const defaultBaseUrl = "https://www.googleapis.com/calendar/v3"

// Sink mirrors events into Google Calendar. The per-user bearer token
// comes from the credential provider on every call so a refresh
// mid-batch is picked up immediately.
type Sink struct {
	http       *resty.Client
	provider   calsync.CredentialProvider
	calendarId string
}

type SinkOptions struct {
	// BaseUrl overrides the calendar API endpoint, used in tests.
	BaseUrl string
	// CalendarId is the target calendar, "primary" works for the
	// token's own account.
	CalendarId string
}

func NewSink(provider calsync.CredentialProvider, opts SinkOptions) Sink {
	if opts.BaseUrl == "" {
		opts.BaseUrl = defaultBaseUrl
	}
	if opts.CalendarId == "" {
		opts.CalendarId = "primary"
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	client.SetTimeout(time.Second * 30)
	telemetry.InstrumentResty(client, "services/calsync/gcal/http")

	return Sink{
		http:       client,
		provider:   provider,
		calendarId: opts.CalendarId,
	}
}

type eventTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type eventBody struct {
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Start       eventTime `json:"start"`
	End         eventTime `json:"end"`
	ColorId     string    `json:"colorId"`
}

func (s Sink) CreateEvent(ctx context.Context, user string, event calsync.NormalizedEvent) error {
	ctx, span := tracer.Start(ctx, "sink:CreateEvent")
	defer span.End()
	span.SetAttributes(
		attribute.String("user", user),
		attribute.String("event", event.Id),
	)

	cred, ok, err := s.provider.Get(ctx, user)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load credential")
		return err
	}
	if !ok {
		err := fmt.Errorf("no credential for user '%s'", user)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	body := eventBody{
		Summary:     event.Title,
		Description: fmt.Sprintf("Course: %s", event.CourseLabel),
		Location:    event.Link,
		Start: eventTime{
			DateTime: event.OpensAt.Format(time.RFC3339),
			TimeZone: event.OpensAt.Location().String(),
		},
		End: eventTime{
			DateTime: event.ClosesAt.Format(time.RFC3339),
			TimeZone: event.ClosesAt.Location().String(),
		},
		ColorId: "6",
	}

	res, err := s.http.R().
		SetContext(ctx).
		SetAuthToken(cred.AccessToken).
		SetBody(body).
		Post(fmt.Sprintf("/calendars/%s/events", url.PathEscape(s.calendarId)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to call calendar api")
		return err
	}
	if res.IsError() {
		err := fmt.Errorf("calendar api: %s: %s", res.Status(), res.String())
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	return nil
}
