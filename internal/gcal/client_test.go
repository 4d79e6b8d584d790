package gcal

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	calendar "google.golang.org/api/calendar/v3"

	"calmonitor/internal/auth"
	"calmonitor/internal/model"
)

type tokenSession struct{ tok string }

func (s tokenSession) Authenticated() bool { return s.tok != "" }

func (s tokenSession) TokenSource(context.Context) (oauth2.TokenSource, error) {
	if s.tok == "" {
		return nil, auth.ErrNotAuthenticated
	}
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: s.tok, TokenType: "Bearer"}), nil
}

const page1 = `{
  "items": [
    {"id": "a", "summary": "Focus work",
     "start": {"dateTime": "2025-10-15T09:00:00-05:00"},
     "end":   {"dateTime": "2025-10-15T09:30:00-05:00"}},
    {"id": "b", "summary": "Holiday",
     "start": {"date": "2025-10-15"}, "end": {"date": "2025-10-16"}},
    {"id": "c", "status": "cancelled", "summary": "Gone",
     "start": {"dateTime": "2025-10-15T10:00:00-05:00"},
     "end":   {"dateTime": "2025-10-15T11:00:00-05:00"}}
  ],
  "nextPageToken": "p2"
}`

const page2 = `{
  "items": [
    {"id": "d",
     "start": {"dateTime": "2025-10-15T14:00:00-05:00"},
     "end":   {"dateTime": "2025-10-15T15:00:00-05:00"}}
  ]
}`

func TestListEvents_Paginates(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "/calendars/ana@example.com/events", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "true", q.Get("singleEvents"))
		assert.Equal(t, "startTime", q.Get("orderBy"))
		assert.Equal(t, "2025-10-15T00:00:00-05:00", q.Get("timeMin"))
		seen = append(seen, q.Get("pageToken"))

		w.Header().Set("Content-Type", "application/json")
		if q.Get("pageToken") == "p2" {
			_, _ = w.Write([]byte(page2))
			return
		}
		_, _ = w.Write([]byte(page1))
	}))
	defer srv.Close()

	loc, err := time.LoadLocation("America/Bogota")
	require.NoError(t, err)

	conn := &Connector{Endpoint: srv.URL}
	p, err := conn.Connect(context.Background(), tokenSession{tok: "tok-1"})
	require.NoError(t, err)

	day := model.NewDate(2025, time.October, 15)
	events, err := p.ListEvents(context.Background(), "ana@example.com", day.StartIn(loc), day.EndIn(loc))
	require.NoError(t, err)

	assert.Equal(t, []string{"", "p2"}, seen)
	require.Len(t, events, 3)
	assert.Equal(t, "Focus work", events[0].Title)
	assert.True(t, events[0].Start.IsTimed())
	assert.Equal(t, 30*time.Minute, events[0].End.DateTime.Sub(events[0].Start.DateTime))

	assert.Equal(t, "Holiday", events[1].Title)
	assert.False(t, events[1].Start.IsTimed())
	assert.Equal(t, model.NewDate(2025, time.October, 15), events[1].Start.Date)

	assert.Equal(t, "", events[2].Title)
}

func TestListEvents_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Not Found"}}`))
	}))
	defer srv.Close()

	c, err := NewClient(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)
	_, err = c.ListEvents(context.Background(), "nobody@example.com", time.Now(), time.Now().Add(time.Hour))
	require.Error(t, err)

	var ae *APIError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, http.StatusNotFound, ae.StatusCode)
	assert.Equal(t, "Not Found", ae.Message)
}

func TestListEvents_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream", http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := NewClient(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)
	_, err = c.ListEvents(context.Background(), "x", time.Now(), time.Now())
	assert.EqualError(t, err, "calendar api: 502 Bad Gateway")
}

func TestConnect_RequiresToken(t *testing.T) {
	conn := &Connector{}
	_, err := conn.Connect(context.Background(), tokenSession{})
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)

	_, err = conn.Connect(context.Background(), nil)
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)

	_, err = conn.Connect(context.Background(), auth.Anonymous{})
	assert.Error(t, err)
}

func TestToEventTime_Empty(t *testing.T) {
	for _, in := range []*calendar.EventDateTime{nil, {}} {
		et, err := toEventTime(in)
		require.NoError(t, err)
		assert.False(t, et.IsTimed())
		assert.True(t, et.Date.IsZero())
	}
}

func TestListEvents_TooManyPages(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items": [], "nextPageToken": "again"}`))
	}))
	defer srv.Close()

	c, err := NewClient(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)
	_, err = c.ListEvents(context.Background(), "loop@example.com", time.Now(), time.Now().Add(time.Hour))
	assert.EqualError(t, err, "calendar api: more than 20 pages for loop@example.com")
	assert.Equal(t, int32(maxPages+1), calls.Load())
}
