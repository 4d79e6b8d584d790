// Package gcal lists events from Google Calendar through the Calendar v3
// API client, authorized with the session's OAuth2 token source.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"calmonitor/internal/auth"
	"calmonitor/internal/compliance"
	appLog "calmonitor/internal/log"
	"calmonitor/internal/model"
)

const maxPages = 20

var errTooManyPages = errors.New("too many result pages")

// APIError is a non-2xx response from the Calendar API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("calendar api: %d %s", e.StatusCode, e.Message)
}

// Client is a Calendar API events reader. It implements
// compliance.Provider.
type Client struct {
	svc *calendar.Service
}

// NewClient wraps an authorized HTTP client. An empty endpoint means the
// public Calendar API.
func NewClient(ctx context.Context, hc *http.Client, endpoint string) (*Client, error) {
	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if endpoint != "" {
		if !strings.HasSuffix(endpoint, "/") {
			endpoint += "/"
		}
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar service: %w", err)
	}
	return &Client{svc: svc}, nil
}

// ListEvents expands recurring events into single instances and returns
// them ordered by start time. Cancelled instances are dropped.
func (c *Client) ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]model.RawEvent, error) {
	call := c.svc.Events.List(calendarID).
		TimeMin(timeMin.Format(time.RFC3339Nano)).
		TimeMax(timeMax.Format(time.RFC3339Nano)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(250)

	out := make([]model.RawEvent, 0)
	pages := 0
	err := call.Pages(ctx, func(p *calendar.Events) error {
		if pages++; pages > maxPages {
			return errTooManyPages
		}
		for _, ev := range p.Items {
			if ev == nil || ev.Status == "cancelled" {
				continue
			}
			raw, err := toRawEvent(ev)
			if err != nil {
				appLog.Warn("calendar event skipped", "member", calendarID, "event", ev.Id, "err", err)
				continue
			}
			out = append(out, raw)
		}
		return nil
	})
	switch {
	case errors.Is(err, errTooManyPages):
		return nil, fmt.Errorf("calendar api: more than %d pages for %s", maxPages, calendarID)
	case err != nil:
		return nil, apiError(err)
	}
	return out, nil
}

// apiError turns a googleapi.Error into an APIError and leaves transport
// and context errors as they are.
func apiError(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}
	msg := gerr.Message
	if msg == "" {
		msg = http.StatusText(gerr.Code)
	}
	return &APIError{StatusCode: gerr.Code, Message: msg}
}

func toRawEvent(ev *calendar.Event) (model.RawEvent, error) {
	start, err := toEventTime(ev.Start)
	if err != nil {
		return model.RawEvent{}, fmt.Errorf("start: %w", err)
	}
	end, err := toEventTime(ev.End)
	if err != nil {
		return model.RawEvent{}, fmt.Errorf("end: %w", err)
	}
	return model.RawEvent{Title: ev.Summary, Start: start, End: end}, nil
}

func toEventTime(t *calendar.EventDateTime) (model.EventTime, error) {
	switch {
	case t == nil:
		return model.EventTime{}, nil
	case t.DateTime != "":
		ts, err := time.Parse(time.RFC3339, t.DateTime)
		if err != nil {
			return model.EventTime{}, err
		}
		return model.Timed(ts), nil
	case t.Date != "":
		d, err := model.ParseDate(t.Date)
		if err != nil {
			return model.EventTime{}, err
		}
		return model.AllDay(d), nil
	}
	return model.EventTime{}, nil
}

// Connector builds an authorized Client from the run's session.
type Connector struct {
	// Endpoint overrides the public Calendar API root, for tests.
	Endpoint string
	// Base is the transport under the OAuth2 layer. Nil means
	// http.DefaultTransport.
	Base    http.RoundTripper
	Timeout time.Duration
}

func (c *Connector) Connect(ctx context.Context, sess auth.Session) (compliance.Provider, error) {
	if sess == nil || !sess.Authenticated() {
		return nil, auth.ErrNotAuthenticated
	}
	ts, err := sess.TokenSource(ctx)
	if err != nil {
		return nil, err
	}
	if ts == nil {
		return nil, errors.New("gcal: session has no token source")
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	hc := &http.Client{
		Transport: &oauth2.Transport{Source: ts, Base: c.Base},
		Timeout:   timeout,
	}
	return NewClient(ctx, hc, c.Endpoint)
}
