// Package calendar writes events to Google Calendar and exports the unified
// event set as iCalendar.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/beekhof/mailclash/internal/model"
)

const (
	// SourceMessageProperty tags calendar entries with the id of the message
	// they were extracted from.
	SourceMessageProperty = "sourceMessageId"
	// SourceAccountProperty records the mailbox the message came from.
	SourceAccountProperty = "sourceAccount"

	// DefaultCalendarID is the authenticated user's primary calendar.
	DefaultCalendarID = "primary"
	// DefaultTimeout bounds each Calendar request.
	DefaultTimeout = 10 * time.Second
)

// Record is the provider's view of a synced event.
type Record struct {
	ID         string
	CalendarID string
	HTMLLink   string
}

// ClientConfig tunes the Calendar client.
type ClientConfig struct {
	Timeout time.Duration
	// APIKey, when set, is sent as the key query parameter on every call.
	APIKey  string
}

// GoogleClient talks to the Calendar API using a caller-supplied access token.
type GoogleClient struct {
	cfg     ClientConfig
	options []option.ClientOption
	logger  zerolog.Logger
}

// NewGoogleClient creates a client. Extra options are appended to every
// service it builds.
func NewGoogleClient(cfg ClientConfig, logger zerolog.Logger, opts ...option.ClientOption) *GoogleClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &GoogleClient{
		cfg:     cfg,
		options: opts,
		logger:  logger.With().Str("component", "calendar").Logger(),
	}
}

func (c *GoogleClient) callOptions() []googleapi.CallOption {
	if c.cfg.APIKey == "" {
		return nil
	}
	return []googleapi.CallOption{googleapi.QueryParameter("key", c.cfg.APIKey)}
}

func (c *GoogleClient) service(ctx context.Context, accessToken string) (*gcal.Service, error) {
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
	opts := append([]option.ClientOption{option.WithHTTPClient(httpClient)}, c.options...)
	service, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return service, nil
}

// FindBySourceID returns the calendar entry previously created for sourceID,
// or nil when there is none.
func (c *GoogleClient) FindBySourceID(ctx context.Context, accessToken, calendarID, sourceID string) (*Record, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	events, err := svc.Events.List(calendarID).
		PrivateExtendedProperty(fmt.Sprintf("%s=%s", SourceMessageProperty, sourceID)).
		SingleEvents(true).
		MaxResults(1).
		Context(reqCtx).
		Do(c.callOptions()...)
	if err != nil {
		return nil, classify("find event by source id", err)
	}
	if len(events.Items) == 0 {
		return nil, nil
	}
	return toRecord(calendarID, events.Items[0]), nil
}

// InsertEvent creates a calendar entry for e without notifying attendees.
func (c *GoogleClient) InsertEvent(ctx context.Context, accessToken, calendarID string, e model.Event) (*Record, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	created, err := svc.Events.Insert(calendarID, toGoogleEvent(e)).
		SendUpdates("none").
		Context(reqCtx).
		Do(c.callOptions()...)
	if err != nil {
		return nil, classify("insert event", err)
	}

	c.logger.Debug().Str("event_id", e.ID).Str("calendar_event_id", created.Id).Msg("calendar event created")
	return toRecord(calendarID, created), nil
}

func toGoogleEvent(e model.Event) *gcal.Event {
	return &gcal.Event{
		Summary: e.Title,
		Start:   &gcal.EventDateTime{DateTime: e.Start.Format(time.RFC3339)},
		End:     &gcal.EventDateTime{DateTime: e.End.Format(time.RFC3339)},
		ExtendedProperties: &gcal.EventExtendedProperties{
			Private: map[string]string{
				SourceMessageProperty: e.ID,
				SourceAccountProperty: e.SourceAccount,
			},
		},
	}
}

func toRecord(calendarID string, e *gcal.Event) *Record {
	return &Record{ID: e.Id, CalendarID: calendarID, HTMLLink: e.HtmlLink}
}

// classify maps provider failures onto model.ErrSyncRejected. A rejected
// token additionally matches model.ErrUnauthorized.
func classify(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.Code)
		}
		if apiErr.Code == http.StatusUnauthorized {
			return fmt.Errorf("%w: %w: %s: %s", model.ErrSyncRejected, model.ErrUnauthorized, op, msg)
		}
		return fmt.Errorf("%w: %s: %s", model.ErrSyncRejected, op, msg)
	}
	return fmt.Errorf("%w: %s: %w", model.ErrSyncRejected, op, err)
}
