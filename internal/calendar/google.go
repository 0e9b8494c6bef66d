package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// appointmentProperty tags mirrored events with the appointment id.
const appointmentProperty = "clinic_appointment_id"

// GoogleClient implements Client on Google Calendar v3. Every call is bounded
// by timeout so a slow provider cannot stall a booking request.
type GoogleClient struct {
	svc     *gcal.Service
	timeout time.Duration
}

// NewGoogleClient builds a client from service-account JSON. Extra options
// (endpoint, http client) are mainly for tests.
func NewGoogleClient(ctx context.Context, credentialsJSON []byte, timeout time.Duration, opts ...option.ClientOption) (*GoogleClient, error) {
	if len(credentialsJSON) > 0 {
		opts = append([]option.ClientOption{
			option.WithCredentialsJSON(credentialsJSON),
			option.WithScopes(gcal.CalendarScope),
		}, opts...)
	}
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar: google service: %w", err)
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &GoogleClient{svc: svc, timeout: timeout}, nil
}

func (c *GoogleClient) ListEvents(ctx context.Context, calendarID string, from, to time.Time) ([]Event, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	loc := from.Location()
	var out []Event
	call := c.svc.Events.List(calendarID).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime")
	err := call.Pages(ctx, func(page *gcal.Events) error {
		for _, item := range page.Items {
			if item.Status == "cancelled" || item.Transparency == "transparent" {
				continue
			}
			evt, err := toEvent(item, loc)
			if err != nil {
				return err
			}
			out = append(out, evt)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("calendar: list events %s: %w", calendarID, err)
	}
	return out, nil
}

func toEvent(item *gcal.Event, loc *time.Location) (Event, error) {
	evt := Event{ID: item.Id, Summary: item.Summary}
	if item.ExtendedProperties != nil {
		evt.AppointmentID = item.ExtendedProperties.Private[appointmentProperty]
	}
	if item.Start == nil || item.End == nil {
		return Event{}, fmt.Errorf("calendar: event %s has no bounds", item.Id)
	}
	if item.Start.Date != "" {
		start, err := time.ParseInLocation("2006-01-02", item.Start.Date, loc)
		if err != nil {
			return Event{}, fmt.Errorf("calendar: event %s start date: %w", item.Id, err)
		}
		end, err := time.ParseInLocation("2006-01-02", item.End.Date, loc)
		if err != nil {
			return Event{}, fmt.Errorf("calendar: event %s end date: %w", item.Id, err)
		}
		evt.Start, evt.End, evt.AllDay = start, end, true
		return evt, nil
	}
	start, err := time.Parse(time.RFC3339, item.Start.DateTime)
	if err != nil {
		return Event{}, fmt.Errorf("calendar: event %s start: %w", item.Id, err)
	}
	end, err := time.Parse(time.RFC3339, item.End.DateTime)
	if err != nil {
		return Event{}, fmt.Errorf("calendar: event %s end: %w", item.Id, err)
	}
	evt.Start, evt.End = start.In(loc), end.In(loc)
	return evt, nil
}

func (c *GoogleClient) CreateEvent(ctx context.Context, calendarID string, in EventInput) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	created, err := c.svc.Events.Insert(calendarID, &gcal.Event{
		Summary:     in.Summary,
		Description: in.Description,
		Start:       &gcal.EventDateTime{DateTime: in.Start.Format(time.RFC3339), TimeZone: in.TimeZone},
		End:         &gcal.EventDateTime{DateTime: in.End.Format(time.RFC3339), TimeZone: in.TimeZone},
		ExtendedProperties: &gcal.EventExtendedProperties{
			Private: map[string]string{appointmentProperty: in.AppointmentID},
		},
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("calendar: create event: %w", err)
	}
	return created.Id, nil
}

func (c *GoogleClient) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.svc.Events.Delete(calendarID, eventID).Context(ctx).Do()
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("calendar: delete event: %w", err)
	}
	return nil
}
