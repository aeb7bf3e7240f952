package raffleworker

import (
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// Schedule decides when the worker opens the next era's draw. An empty
// expression disables triggering and the worker only answers requests.
type Schedule struct {
	expr string
}

// NewSchedule validates a cron expression.
func NewSchedule(expr string) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr != "" && !gronx.IsValid(expr) {
		return Schedule{}, fmt.Errorf("invalid cron expression %q", expr)
	}
	return Schedule{expr: expr}, nil
}

// Enabled reports whether draws are triggered at all.
func (s Schedule) Enabled() bool { return s.expr != "" }

// Due reports whether a tick has passed since last. The first trigger is due
// immediately.
func (s Schedule) Due(last time.Time, hasLast bool, now time.Time) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	if !hasLast {
		return true, nil
	}
	next, err := gronx.NextTickAfter(s.expr, last.UTC(), false)
	if err != nil {
		return false, fmt.Errorf("next tick for %q: %w", s.expr, err)
	}
	return !next.After(now.UTC()), nil
}
