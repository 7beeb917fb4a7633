// Package schedule parses the five-field cron expressions attached to jobs.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Standard minute, hour, day-of-month, month, day-of-week grammar.
// Descriptors such as @daily are not accepted.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Schedule yields successive fire times for a cron expression.
type Schedule interface {
	Next(time.Time) time.Time
}

func Parse(expr string) (Schedule, error) {
	return parser.Parse(strings.TrimSpace(expr))
}

// Validate reports whether expr parses and fires at least once from now.
// Expressions such as "0 0 30 2 *" parse but never match a date.
func Validate(expr string) error {
	s, err := Parse(expr)
	if err != nil {
		return err
	}
	if s.Next(time.Now()).IsZero() {
		return fmt.Errorf("schedule %q never fires", strings.TrimSpace(expr))
	}
	return nil
}
