package compliance

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"calmonitor/internal/auth"
	"calmonitor/internal/model"
)

// authed is a logged-in session whose credential is never used by the
// fake connector.
type authed struct{}

func (authed) Authenticated() bool { return true }

func (authed) TokenSource(context.Context) (oauth2.TokenSource, error) { return nil, nil }

func TestNewChecker_Validation(t *testing.T) {
	p := newFakeProvider()

	_, err := NewChecker(fakeConnector{provider: p}, nil, settings(PolicySingleDay))
	assert.ErrorIs(t, err, ErrNoRoster)

	_, err = NewChecker(nil, fixedRoster{}, settings(PolicySingleDay))
	assert.Error(t, err)

	s := settings("weekly")
	_, err = NewChecker(fakeConnector{provider: p}, fixedRoster{}, s)
	assert.ErrorIs(t, err, ErrInvalidPolicy)

	s = settings(PolicySingleDay)
	s.Thresholds.Primary = 120
	_, err = NewChecker(fakeConnector{provider: p}, fixedRoster{}, s)
	assert.ErrorIs(t, err, ErrInvalidThreshold)

	s = settings("")
	c, err := NewChecker(fakeConnector{provider: p}, fixedRoster{}, s)
	require.NoError(t, err)
	assert.Equal(t, PolicySingleDay, c.Settings().Policy)
}

func TestCheckDay_FocusWorkNeedsAttention(t *testing.T) {
	today := model.DateOf(wed)
	p := newFakeProvider().add("ana@example.com", today, block(today, "Focus work", 9, 0, 9, 30))
	c := newTestChecker(p, fixedRoster{member("ana")}, settings(PolicySingleDay))

	res, err := c.CheckDay(context.Background(), authed{}, today)
	require.NoError(t, err)
	require.Len(t, res.Checked, 1)

	got := res.Checked[0]
	assert.Equal(t, 7.1, got.UtilizationPercent)
	assert.Equal(t, 92.9, got.EmptyPercent)
	assert.Equal(t, 1, got.EventCount)
	assert.True(t, got.NeedsAttention)
	assert.False(t, got.HasOversizedBlocks)
	assert.Empty(t, got.Error)
	assert.Nil(t, got.NextWorkingDay)

	require.Len(t, res.NeedsAttention, 1)
	assert.Equal(t, "ana", res.NeedsAttention[0].Name)
	assert.Equal(t, "Wed, 10/15/2025", res.TargetDate)
	assert.Equal(t, "2025-10-15T00:00:00Z", res.TargetDateISO)
	assert.Equal(t, 30, res.Threshold)
	assert.NotEmpty(t, res.RunID)
	assert.False(t, res.Partial)
}

func TestCheckDay_OneMemberFails(t *testing.T) {
	today := model.DateOf(wed)
	roster := fixedRoster{member("ana"), member("ben"), member("cy"), member("dee"), member("eli")}

	p := newFakeProvider()
	for _, m := range roster {
		p.add(m.CalendarID, today, fullDay(today)...)
	}
	p.fail("cy@example.com", today, errors.New("calendar not found"))

	c := newTestChecker(p, roster, settings(PolicySingleDay))
	res, err := c.CheckDay(context.Background(), authed{}, today)
	require.NoError(t, err)

	assert.Equal(t, 5, res.TotalMembers)
	require.Len(t, res.Checked, 5)
	assert.Equal(t, 1, res.ErrorCount)

	failed := res.Checked[2]
	assert.Equal(t, "cy", failed.Name)
	assert.Equal(t, "calendar not found", failed.Error)
	assert.Equal(t, 0.0, failed.UtilizationPercent)
	assert.Equal(t, 100.0, failed.EmptyPercent)
	assert.True(t, failed.NeedsAttention)
	assert.NotNil(t, failed.Events)
	assert.NotNil(t, failed.OversizedBlocks)

	for i, m := range res.Checked {
		if i == 2 {
			continue
		}
		assert.Equal(t, 100.0, m.UtilizationPercent, m.Name)
		assert.False(t, m.NeedsAttention, m.Name)
		assert.True(t, m.HasOversizedBlocks, m.Name)
	}
	require.Len(t, res.NeedsAttention, 1)
	assert.Equal(t, 80.0, res.AverageUtilizationPercent)

	// Members are visited in roster order.
	calls := p.recorded()
	require.Len(t, calls, 5)
	for i, m := range roster {
		assert.Equal(t, m.CalendarID, calls[i].calendarID)
		assert.Equal(t, today, calls[i].date)
	}
}

func TestCheckDay_AverageIsRounded(t *testing.T) {
	today := model.DateOf(wed)
	p := newFakeProvider().
		add("ana@example.com", today, block(today, "Review", 9, 0, 9, 30)).
		add("ben@example.com", today, block(today, "Review", 9, 0, 10, 0))
	c := newTestChecker(p, fixedRoster{member("ana"), member("ben")}, settings(PolicySingleDay))

	res, err := c.CheckDay(context.Background(), authed{}, today)
	require.NoError(t, err)
	assert.Equal(t, 7.1, res.Checked[0].UtilizationPercent)
	assert.Equal(t, 14.3, res.Checked[1].UtilizationPercent)
	assert.Equal(t, 10.7, res.AverageUtilizationPercent)
}

func TestCheckDay_EmptyRoster(t *testing.T) {
	c := newTestChecker(newFakeProvider(), fixedRoster{}, settings(PolicySingleDay))
	res, err := c.CheckDay(context.Background(), authed{}, model.DateOf(wed))
	require.NoError(t, err)
	assert.Empty(t, res.Checked)
	assert.Equal(t, 0.0, res.AverageUtilizationPercent)
	assert.False(t, res.Partial)
}

func TestCheckDay_NotAuthenticated(t *testing.T) {
	p := newFakeProvider()
	c := newTestChecker(p, fixedRoster{member("ana")}, settings(PolicySingleDay))

	_, err := c.CheckDay(context.Background(), loggedOut{}, model.DateOf(wed))
	require.ErrorIs(t, err, auth.ErrNotAuthenticated)
	assert.True(t, IsConfigurationError(err))
	assert.Empty(t, p.recorded())

	_, err = c.CheckDay(context.Background(), nil, model.DateOf(wed))
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)
}

func TestCheckDay_RosterFailure(t *testing.T) {
	c := newTestChecker(newFakeProvider(), brokenRoster{}, settings(PolicySingleDay))
	_, err := c.CheckDay(context.Background(), authed{}, model.DateOf(wed))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "roster file unreadable")
}

func TestCheckDay_TwoDayFetchesNextWorkingDay(t *testing.T) {
	fri := model.NewDate(2025, time.October, 17)
	mon := model.NewDate(2025, time.October, 20)

	p := newFakeProvider().
		add("ana@example.com", fri, fullDay(fri)...).
		add("ana@example.com", mon, block(mon, "Planning", 9, 0, 10, 0))
	c := newTestChecker(p, fixedRoster{member("ana")}, settings(PolicyTwoDayLookahead))

	res, err := c.CheckDay(context.Background(), authed{}, fri)
	require.NoError(t, err)

	calls := p.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, fri, calls[0].date)
	assert.Equal(t, mon, calls[1].date)

	got := res.Checked[0]
	assert.Equal(t, 100.0, got.UtilizationPercent)
	require.NotNil(t, got.NextWorkingDay)
	assert.Equal(t, "10/20/2025", got.NextWorkingDay.Date)
	assert.Equal(t, 14.3, got.NextWorkingDay.UtilizationPercent)
	assert.Equal(t, 85.7, got.NextWorkingDay.EmptyPercent)
	assert.True(t, got.NeedsAttention)
}

func TestCheckDay_TwoDayNextDayFailure(t *testing.T) {
	fri := model.NewDate(2025, time.October, 17)
	mon := model.NewDate(2025, time.October, 20)

	p := newFakeProvider().
		add("ana@example.com", fri, fullDay(fri)...).
		fail("ana@example.com", mon, errors.New("rate limited"))
	c := newTestChecker(p, fixedRoster{member("ana")}, settings(PolicyTwoDayLookahead))

	res, err := c.CheckDay(context.Background(), authed{}, fri)
	require.NoError(t, err)

	got := res.Checked[0]
	require.NotNil(t, got.NextWorkingDay)
	assert.Equal(t, "rate limited", got.NextWorkingDay.Error)
	assert.Contains(t, got.Error, "rate limited")
	assert.True(t, got.NeedsAttention)
	assert.Equal(t, 1, res.ErrorCount)
}

func TestCheckDay_CancelReturnsPartial(t *testing.T) {
	today := model.DateOf(wed)
	roster := fixedRoster{member("ana"), member("ben"), member("cy")}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := newFakeProvider()
	for _, m := range roster {
		p.add(m.CalendarID, today, fullDay(today)...)
	}
	p.onCall = func(n int) {
		if n == 2 {
			cancel()
		}
	}
	c := newTestChecker(p, roster, settings(PolicySingleDay))

	res, err := c.CheckDay(ctx, authed{}, today)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.True(t, res.Partial)
	require.Len(t, res.Checked, 1)
	assert.Equal(t, "ana", res.Checked[0].Name)
	assert.Equal(t, 3, res.TotalMembers)
	assert.Len(t, p.recorded(), 2)
}

func TestCheckDay_ConcurrentRunsShareOneSlot(t *testing.T) {
	today := model.DateOf(wed)
	roster := fixedRoster{member("ana"), member("ben"), member("cy")}

	p := newFakeProvider()
	p.delay = 2 * time.Millisecond
	c := newTestChecker(p, roster, settings(PolicyTwoDayLookahead))

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.CheckDay(context.Background(), authed{}, today)
			assert.NoError(t, err)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := c.BuildReport(context.Background(), authed{}, 2)
		assert.NoError(t, err)
	}()
	wg.Wait()

	assert.Equal(t, int32(1), p.maxInFlight.Load())
	assert.Len(t, p.recorded(), 4*len(roster)*2+len(roster)*2)
}

func TestCheckDay_JSONShape(t *testing.T) {
	today := model.DateOf(wed)
	p := newFakeProvider().fail("ana@example.com", today, errors.New("boom"))
	c := newTestChecker(p, fixedRoster{member("ana")}, settings(PolicySingleDay))

	res, err := c.CheckDay(context.Background(), authed{}, today)
	require.NoError(t, err)

	raw, err := json.Marshal(res)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Contains(t, doc, "averageUtilization")
	assert.Contains(t, doc, "errors")
	assert.Contains(t, doc, "targetDate")

	checked := doc["checked"].([]any)[0].(map[string]any)
	assert.Equal(t, "ana", checked["name"])
	assert.Equal(t, "ana@example.com", checked["email"])
	assert.Equal(t, "boom", checked["error"])
	assert.Equal(t, []any{}, checked["oversizedBlocks"])
	assert.Equal(t, []any{}, checked["events"])
}
