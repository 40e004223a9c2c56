package calendar

import (
	"context"
	"fmt"
	"lmsync-backend/lib/htmlutil"
	"lmsync-backend/lib/scrapers/moodle/core"
	"log/slog"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/moodle/calendar")

const UnknownCourse = "Unknown Course"

type Client struct {
	Core *core.Client
}

func NewClient(coreClient *core.Client) Client {
	return Client{Core: coreClient}
}

// Event is one entry of the calendar listing page. All fields come
// from the listing node itself; opening the event's detail page is a
// separate request (see ActivityDates).
type Event struct {
	Id          string
	CourseId    string
	Title       string
	Type        string
	CourseLabel string
	Link        string
}

// labelCandidate is one structural location the portal may render the
// course name at. Candidates are probed in order; WrongClass is an
// exact class signature marking a slot that holds the event
// description instead of the course name.
type labelCandidate struct {
	Selector   string
	WrongClass string
}

var courseLabelCandidates = []labelCandidate{
	{Selector: "div.description div.description-content", WrongClass: "description-content col-11"},
	{Selector: "div.description div.col-11:nth-of-type(2)"},
}

func courseLabel(node *goquery.Selection) string {
	for _, cand := range courseLabelCandidates {
		sel := node.Find(cand.Selector).First()
		if sel.Length() == 0 {
			continue
		}
		if cand.WrongClass != "" && sel.AttrOr("class", "") == cand.WrongClass {
			// known wrong slot, the next candidate holds the real label
			continue
		}
		return htmlutil.CleanText(htmlutil.GetText(sel.Nodes[0]))
	}
	return UnknownCourse
}

const eventLinkSelector = "div:nth-child(1) > div:nth-child(3) > a:nth-child(1)"

// Events enumerates the calendar listing in DOM order. Nodes missing
// their required attributes are logged and skipped, they never abort
// the enumeration.
func (c Client) Events(ctx context.Context) ([]Event, error) {
	ctx, span := tracer.Start(ctx, "client:Events")
	defer span.End()

	doc, err := c.Core.Document(ctx, "/calendar/view.php")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch calendar listing")
		return nil, err
	}

	var events []Event
	doc.Find("div.event").Each(func(i int, node *goquery.Selection) {
		id := node.AttrOr("data-event-id", "")
		if id == "" {
			slog.WarnContext(ctx, "event node without id", "index", i)
			return
		}
		events = append(events, Event{
			Id:          id,
			CourseId:    node.AttrOr("data-course-id", ""),
			Title:       node.AttrOr("data-event-title", ""),
			Type:        node.AttrOr("data-event-eventtype", ""),
			CourseLabel: courseLabel(node),
			Link:        node.Find(eventLinkSelector).AttrOr("href", ""),
		})
	})

	span.SetAttributes(attribute.Int("count", len(events)))
	return events, nil
}

type ActivityDates struct {
	Opened string
	Closes string
}

// ActivityDates opens the event's detail page and reads the raw
// opens/closes labels. The portal renders them as the first two
// children of the activity-dates block.
func (c Client) ActivityDates(ctx context.Context, event Event) (ActivityDates, error) {
	ctx, span := tracer.Start(ctx, "client:ActivityDates")
	defer span.End()

	if event.Link == "" {
		err := fmt.Errorf("event '%s' has no detail link", event.Id)
		span.SetStatus(codes.Error, err.Error())
		return ActivityDates{}, err
	}

	doc, err := c.Core.Document(ctx, event.Link)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch event detail page")
		return ActivityDates{}, err
	}

	opened := doc.Find(".activity-dates > div:nth-child(1)").First()
	closes := doc.Find(".activity-dates > div:nth-child(2)").First()
	if opened.Length() == 0 || closes.Length() == 0 {
		err := fmt.Errorf("event '%s' detail page has no activity dates", event.Id)
		span.SetStatus(codes.Error, err.Error())
		return ActivityDates{}, err
	}

	return ActivityDates{
		Opened: htmlutil.CleanText(htmlutil.GetText(opened.Nodes[0])),
		Closes: htmlutil.CleanText(htmlutil.GetText(closes.Nodes[0])),
	}, nil
}
