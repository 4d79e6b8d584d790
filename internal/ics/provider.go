// Package ics reads team calendars from ICS subscription feeds: a cached
// HTTP fetcher, a VEVENT parser and an RRULE expander, combined into a
// calendar provider keyed by member identity.
package ics

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"calmonitor/internal/auth"
	"calmonitor/internal/compliance"
	"calmonitor/internal/model"
)

// Provider lists a member's events from their ICS feed.
type Provider struct {
	fetcher *Fetcher
	feeds   map[string]string
	loc     *time.Location
}

// NewProvider maps member identities to feed URLs. Floating times are read
// in loc.
func NewProvider(fetcher *Fetcher, feeds map[string]string, loc *time.Location) *Provider {
	if fetcher == nil {
		fetcher = NewFetcher(nil, "")
	}
	if loc == nil {
		loc = time.Local
	}
	m := make(map[string]string, len(feeds))
	for id, u := range feeds {
		m[strings.ToLower(id)] = u
	}
	return &Provider{fetcher: fetcher, feeds: m, loc: loc}
}

// FeedURL resolves a calendar identity. An identity that is itself an
// http(s) URL is used as the feed.
func (p *Provider) FeedURL(calendarID string) (string, error) {
	if u, ok := p.feeds[strings.ToLower(calendarID)]; ok {
		return u, nil
	}
	if strings.HasPrefix(calendarID, "https://") || strings.HasPrefix(calendarID, "http://") {
		return calendarID, nil
	}
	return "", fmt.Errorf("no ICS feed configured for %s", calendarID)
}

// ListEvents fetches and expands the feed, returning the events that
// overlap [timeMin, timeMax] ordered by start.
func (p *Provider) ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]model.RawEvent, error) {
	u, err := p.FeedURL(calendarID)
	if err != nil {
		return nil, err
	}
	body, _, err := p.fetcher.Fetch(ctx, Feed{ID: calendarID, URL: u})
	if err != nil {
		return nil, err
	}
	parsed, err := ParseICS(calendarID, body, p.loc)
	if err != nil {
		return nil, err
	}
	occ, err := ExpandOccurrences(parsed, ExpandConfig{
		Location:   p.loc,
		RangeStart: timeMin,
		RangeEnd:   timeMax,
	})
	if err != nil {
		return nil, err
	}

	out := make([]model.RawEvent, 0, len(occ))
	for _, o := range occ {
		out = append(out, o.RawEvent())
	}
	return out, nil
}

// Connector hands out the shared Provider. Feeds need no credential, so
// any authenticated session is accepted, auth.Anonymous included.
type Connector struct {
	Provider *Provider
}

func NewConnector(client *http.Client, cacheDir string, feeds map[string]string, loc *time.Location) *Connector {
	return &Connector{Provider: NewProvider(NewFetcher(client, cacheDir), feeds, loc)}
}

func (c *Connector) Connect(_ context.Context, sess auth.Session) (compliance.Provider, error) {
	if sess == nil || !sess.Authenticated() {
		return nil, auth.ErrNotAuthenticated
	}
	return c.Provider, nil
}
