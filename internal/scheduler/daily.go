// Package scheduler triggers the daily compliance check on a cron
// schedule in the configured timezone.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"calmonitor/internal/auth"
	"calmonitor/internal/compliance"
	appLog "calmonitor/internal/log"
	"calmonitor/internal/model"
)

// Checker is the part of compliance.Checker the scheduler drives.
type Checker interface {
	CheckDay(ctx context.Context, sess auth.Session, date model.Date) (*compliance.AggregateCheckResult, error)
	Today() model.Date
}

// ErrSkipped is returned by RunNow when the session is not authenticated.
var ErrSkipped = errors.New("scheduled check skipped: not authenticated")

// Daily runs CheckDay for the current date whenever the cron spec fires.
// Runs never overlap; a firing while the previous run is still going is
// skipped.
type Daily struct {
	checker Checker
	session auth.Session
	spec    string
	timeout time.Duration

	cron    *cron.Cron
	entryID cron.EntryID

	mu   sync.Mutex
	last *compliance.AggregateCheckResult
}

// NewDaily parses spec (standard 5-field cron) in loc. timeout bounds
// each run; zero means 30 minutes.
func NewDaily(checker Checker, sess auth.Session, spec string, loc *time.Location, timeout time.Duration) (*Daily, error) {
	if loc == nil {
		loc = time.Local
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	d := &Daily{
		checker: checker,
		session: sess,
		spec:    spec,
		timeout: timeout,
	}
	logger := cronLogger{}
	d.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	id, err := d.cron.AddFunc(spec, d.fire)
	if err != nil {
		return nil, fmt.Errorf("schedule %q: %w", spec, err)
	}
	d.entryID = id
	return d, nil
}

// Start begins firing in the background.
func (d *Daily) Start() {
	d.cron.Start()
	appLog.Info("scheduler started", "schedule", d.spec, "next", d.Next())
}

// Stop stops firing and waits for a running check to finish or ctx to end.
func (d *Daily) Stop(ctx context.Context) {
	done := d.cron.Stop()
	select {
	case <-done.Done():
		appLog.Info("scheduler stopped")
	case <-ctx.Done():
		appLog.Warn("scheduler stop timed out with a check still running")
	}
}

// Next is the next firing time, zero before Start.
func (d *Daily) Next() time.Time {
	return d.cron.Entry(d.entryID).Next
}

// Last returns the most recent completed snapshot, if any.
func (d *Daily) Last() *compliance.AggregateCheckResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

func (d *Daily) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	_, _ = d.RunNow(ctx)
}

// RunNow performs one scheduled check immediately. It returns ErrSkipped
// without fetching when the session is not authenticated.
func (d *Daily) RunNow(ctx context.Context) (*compliance.AggregateCheckResult, error) {
	if d.session == nil || !d.session.Authenticated() {
		appLog.Info("skipping scheduled check - not authenticated")
		return nil, ErrSkipped
	}

	date := d.checker.Today()
	appLog.Info("running scheduled calendar check", "date", date.ISO())

	res, err := d.checker.CheckDay(ctx, d.session, date)
	if errors.Is(err, auth.ErrNotAuthenticated) {
		appLog.Info("skipping scheduled check - not authenticated")
		return nil, ErrSkipped
	}
	if res != nil {
		d.mu.Lock()
		d.last = res
		d.mu.Unlock()
	}
	if err != nil {
		appLog.Error("scheduled check failed", err, "date", date.ISO())
		return res, err
	}

	appLog.Info(fmt.Sprintf("%d members need attention", len(res.NeedsAttention)),
		"date", date.ISO(), "run_id", res.RunID)
	return res, nil
}

// cronLogger routes cron's own messages through the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
