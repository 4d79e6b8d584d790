package compliance

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"calmonitor/internal/auth"
	"calmonitor/internal/model"
)

// Provider lists a calendar's events between two instants, ordered by
// start time.
type Provider interface {
	ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]model.RawEvent, error)
}

// Connector builds a Provider for one run from the caller's session.
// It returns auth.ErrNotAuthenticated when the session has no credential.
type Connector interface {
	Connect(ctx context.Context, sess auth.Session) (Provider, error)
}

// Roster lists the current team members in display order.
type Roster interface {
	Members(ctx context.Context) ([]model.TeamMember, error)
}

// FetchPolicy admits one provider call at a time, optionally spaced by a
// minimum interval. It is shared by every run of a Checker, so a scheduled
// check and an HTTP request also never fetch concurrently.
type FetchPolicy struct {
	sem     chan struct{}
	limiter *rate.Limiter
}

// NewFetchPolicy returns a degree-1 policy. interval <= 0 means no spacing.
func NewFetchPolicy(interval time.Duration) *FetchPolicy {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &FetchPolicy{
		sem:     make(chan struct{}, 1),
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Do runs fn once the slot is free and the interval has elapsed. It returns
// ctx.Err() without calling fn if ctx ends first.
func (p *FetchPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.sem }()

	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	return fn(ctx)
}
