package calsync

import (
	"context"
	"fmt"
	"lmsync-backend/lib/scrapers/moodle/calendar"
	"lmsync-backend/lib/scrapers/moodle/core"
	"lmsync-backend/lib/syncledger"
	"lmsync-backend/lib/timezone"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/calsync")

type RunnerOptions struct {
	PortalBaseUrl string
	// StepTimeout bounds every portal request so a hung page cannot
	// stall the batch. Defaults to the core client's 30s.
	StepTimeout time.Duration
	// Location is the zone date labels are interpreted in.
	Location *time.Location
	// CourseNames overrides the scraped course label by course id.
	CourseNames map[string]string
}

// Runner executes one user's scrape-dedup-sync pass.
type Runner struct {
	ledger syncledger.Store
	sink   CalendarSink
	opts   RunnerOptions
}

func NewRunner(ledger syncledger.Store, sink CalendarSink, opts RunnerOptions) Runner {
	if opts.Location == nil {
		opts.Location = timezone.Location
	}
	return Runner{
		ledger: ledger,
		sink:   sink,
		opts:   opts,
	}
}

// RunUser authenticates against the portal and walks the calendar
// listing in DOM order. Authentication, listing and ledger errors
// abort the pass; everything that goes wrong with a single event is
// logged and skipped.
func (r Runner) RunUser(ctx context.Context, user string, cred Credential) error {
	ctx, span := tracer.Start(ctx, "runner:RunUser")
	defer span.End()
	span.SetAttributes(attribute.String("user", user))

	client, err := core.NewClient(ctx, core.ClientOptions{
		BaseUrl: r.opts.PortalBaseUrl,
		Timeout: r.opts.StepTimeout,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to initialize portal client")
		return err
	}

	err = client.LoginUsernamePassword(ctx, user, cred.PortalPassword)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to authenticate")
		return fmt.Errorf("authenticate: %w", err)
	}

	cal := calendar.NewClient(client)
	events, err := cal.Events(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list calendar events")
		return fmt.Errorf("list events: %w", err)
	}
	slog.InfoContext(ctx, "found events", "user", user, "count", len(events))

	var seen []syncledger.CheckEvent
	for _, ev := range events {
		raw, err := r.extractEvent(ctx, cal, ev)
		if err != nil {
			slog.WarnContext(ctx, "skipping event after extraction failure",
				"user", user, "event", ev.Id, "err", err)
			continue
		}
		seen = append(seen, syncledger.CheckEvent{
			EventId:    raw.Id,
			CourseId:   raw.CourseId,
			Title:      raw.Title,
			EventType:  raw.Type.String(),
			EventOpen:  raw.OpenedText,
			EventClose: raw.ClosesText,
		})

		synced, err := r.ledger.Has(ctx, user, raw.Id)
		if err != nil {
			// an unreadable ledger must not look like "nothing synced
			// yet", that would re-create every event downstream
			span.RecordError(err)
			span.SetStatus(codes.Error, "ledger unavailable")
			return err
		}

		decision := Decide(raw, synced)
		if decision != Proceed {
			slog.InfoContext(ctx, "skipping event",
				"user", user, "event", raw.Id, "reason", decision.String())
			continue
		}

		norm, err := NormalizeEvent(raw, r.opts.Location)
		if err != nil {
			slog.WarnContext(ctx, "skipping event with unparseable dates",
				"user", user, "event", raw.Id, "err", err)
			continue
		}

		err = r.sink.CreateEvent(ctx, user, norm)
		if err != nil {
			// not recorded in the ledger, so the next pass retries it
			slog.WarnContext(ctx, "failed to create calendar event",
				"user", user, "event", raw.Id, "err", err)
			continue
		}

		err = r.ledger.Record(ctx, user, raw.Id)
		if err != nil {
			slog.WarnContext(ctx, "failed to record synced event",
				"user", user, "event", raw.Id, "err", err)
		}
	}

	return r.ledger.WriteCheckLog(ctx, user, seen)
}

// extractEvent opens the event's detail view and assembles the raw
// record. The listing node's course label is kept unless the
// configuration names the course explicitly.
func (r Runner) extractEvent(ctx context.Context, cal calendar.Client, ev calendar.Event) (RawEvent, error) {
	dates, err := cal.ActivityDates(ctx, ev)
	if err != nil {
		return RawEvent{}, err
	}

	label := ev.CourseLabel
	if name, ok := r.opts.CourseNames[ev.CourseId]; ok {
		label = name
	}

	return RawEvent{
		Id:          ev.Id,
		CourseId:    ev.CourseId,
		Title:       ev.Title,
		Type:        ParseEventType(ev.Type),
		OpenedText:  dates.Opened,
		ClosesText:  dates.Closes,
		CourseLabel: label,
		Link:        ev.Link,
	}, nil
}
