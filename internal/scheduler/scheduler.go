// Package scheduler computes default send times for SendLater.
//
// The default time is expressed as a standard 5-field cron expression
// (min, hour, dom, month, dow) and is always resolved on a later calendar day
// than the moment the user asked.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultCron is the default "tomorrow at 9am" schedule.
const DefaultCron = "0 9 * * *"

// Scheduler resolves the next default send time from a cron expression.
type Scheduler struct {
	expr     string
	schedule cron.Schedule
}

// NewScheduler parses expr using the standard 5-field cron parser.
// An empty expression selects DefaultCron.
func NewScheduler(expr string) (*Scheduler, error) {
	if expr == "" {
		expr = DefaultCron
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid default schedule %q: %w", expr, err)
	}
	return &Scheduler{expr: expr, schedule: sched}, nil
}

// Expr returns the cron expression in use.
func (s *Scheduler) Expr() string {
	return s.expr
}

// NextDay returns the first activation that falls on or after the start of
// the calendar day following now, in now's location. It never returns a time
// on now's date, even when the activation for today is still ahead.
func (s *Scheduler) NextDay(now time.Time) time.Time {
	y, m, d := now.Date()
	tomorrow := time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
	return s.schedule.Next(tomorrow.Add(-time.Second))
}
