package compliance

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"

	"calmonitor/internal/auth"
	"calmonitor/internal/model"
	"calmonitor/internal/occupancy"
)

// wed is Wednesday 15 October 2025, 10:00 UTC.
var wed = time.Date(2025, time.October, 15, 10, 0, 0, 0, time.UTC)

type call struct {
	calendarID string
	date       model.Date
}

// fakeProvider serves canned events keyed by calendar and ISO date.
type fakeProvider struct {
	mu       sync.Mutex
	events   map[string]map[string][]model.RawEvent
	failures map[string]map[string]error
	calls    []call
	delay    time.Duration
	onCall   func(n int)

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		events:   map[string]map[string][]model.RawEvent{},
		failures: map[string]map[string]error{},
	}
}

func (p *fakeProvider) add(id string, d model.Date, evs ...model.RawEvent) *fakeProvider {
	if p.events[id] == nil {
		p.events[id] = map[string][]model.RawEvent{}
	}
	p.events[id][d.ISO()] = append(p.events[id][d.ISO()], evs...)
	return p
}

func (p *fakeProvider) fail(id string, d model.Date, err error) *fakeProvider {
	if p.failures[id] == nil {
		p.failures[id] = map[string]error{}
	}
	p.failures[id][d.ISO()] = err
	return p
}

func (p *fakeProvider) ListEvents(ctx context.Context, id string, timeMin, timeMax time.Time) ([]model.RawEvent, error) {
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		cur := p.maxInFlight.Load()
		if n <= cur || p.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	d := model.DateOf(timeMin)
	p.mu.Lock()
	p.calls = append(p.calls, call{calendarID: id, date: d})
	count := len(p.calls)
	p.mu.Unlock()

	if p.onCall != nil {
		p.onCall(count)
	}
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.failures[id][d.ISO()]; err != nil {
		return nil, err
	}
	return p.events[id][d.ISO()], nil
}

func (p *fakeProvider) recorded() []call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]call(nil), p.calls...)
}

type fakeConnector struct {
	provider Provider
}

func (c fakeConnector) Connect(_ context.Context, sess auth.Session) (Provider, error) {
	if sess == nil || !sess.Authenticated() {
		return nil, auth.ErrNotAuthenticated
	}
	return c.provider, nil
}

type loggedOut struct{}

func (loggedOut) Authenticated() bool { return false }

func (loggedOut) TokenSource(context.Context) (oauth2.TokenSource, error) {
	return nil, auth.ErrNotAuthenticated
}

type fixedRoster []model.TeamMember

func (r fixedRoster) Members(context.Context) ([]model.TeamMember, error) {
	return r, nil
}

type brokenRoster struct{}

func (brokenRoster) Members(context.Context) ([]model.TeamMember, error) {
	return nil, errors.New("roster file unreadable")
}

func member(name string) model.TeamMember {
	return model.TeamMember{Name: name, CalendarID: name + "@example.com", Role: "Engineer"}
}

func block(d model.Date, title string, sh, sm, eh, em int) model.RawEvent {
	start := d.StartIn(time.UTC)
	return model.RawEvent{
		Title: title,
		Start: model.Timed(start.Add(time.Duration(sh)*time.Hour + time.Duration(sm)*time.Minute)),
		End:   model.Timed(start.Add(time.Duration(eh)*time.Hour + time.Duration(em)*time.Minute)),
	}
}

// fullDay fills all 14 slots of the standard window.
func fullDay(d model.Date) []model.RawEvent {
	return []model.RawEvent{
		block(d, "Build", 9, 0, 12, 0),
		block(d, "Build", 14, 0, 18, 0),
	}
}

func settings(p Policy) Settings {
	return Settings{
		Policy:     p,
		Thresholds: DefaultThresholds(),
		Window:     occupancy.StandardWindow(),
		Location:   time.UTC,
	}
}

func newTestChecker(p Provider, roster Roster, s Settings, opts ...Option) *Checker {
	opts = append([]Option{WithClock(func() time.Time { return wed })}, opts...)
	c, err := NewChecker(fakeConnector{provider: p}, roster, s, opts...)
	if err != nil {
		panic(err)
	}
	return c
}
