package quota

import (
	"errors"
	"time"
)

// ErrLimitReached signals that the user has exhausted today's allowance
// for the requested content type.
var ErrLimitReached = errors.New("quota limit reached")

// Limits maps a content type to its per-day allowance. Content types with
// no entry are unlimited and never recorded.
type Limits map[string]int

// DefaultLimits returns the built-in per-day allowances.
func DefaultLimits() Limits {
	return Limits{
		"video": 1,
		"image": 3,
		"text":  5,
	}
}

// Record holds a user's counts for one UTC day.
type Record struct {
	UserID  string
	DateKey string
	Counts  map[string]int
}

// DateKey formats t as the UTC day bucket used for quota windows.
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
