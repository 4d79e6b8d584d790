package compliance

import (
	"errors"
	"fmt"

	"calmonitor/internal/auth"
	"calmonitor/internal/model"
)

// Configuration errors are fatal to the request that triggered them.
var (
	ErrInvalidThreshold = errors.New("threshold must be between 0 and 100")
	ErrInvalidDays      = fmt.Errorf("report days must be between 0 and %d", MaxReportDays)
	ErrInvalidPolicy    = errors.New("unknown compliance policy")
	ErrNoRoster         = errors.New("no roster configured")
)

// ProviderError records a failed fetch for one (member, date). It never
// aborts a run; it is attached to the affected result or cell.
type ProviderError struct {
	CalendarID string
	Date       model.Date
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("fetch events for %s on %s: %v", e.CalendarID, e.Date, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports whether err should reject the request
// rather than produce a best-effort result.
func IsConfigurationError(err error) bool {
	return errors.Is(err, auth.ErrNotAuthenticated) ||
		errors.Is(err, ErrInvalidThreshold) ||
		errors.Is(err, ErrInvalidDays) ||
		errors.Is(err, ErrInvalidPolicy) ||
		errors.Is(err, ErrNoRoster)
}
