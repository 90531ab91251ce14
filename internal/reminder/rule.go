// Package reminder schedules recurring and one-shot local notifications and
// watches for user inactivity.
package reminder

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrInvalidRule = errors.New("reminder: invalid rule")

var cronParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow,
)

// Rule is a recurrence that compiles to a standard 5-field cron spec.
type Rule interface {
	Spec() string
	Validate() error
}

// Daily fires every day at Hour:Minute.
type Daily struct {
	Hour   int
	Minute int
}

func (d Daily) Spec() string {
	return fmt.Sprintf("%d %d * * *", d.Minute, d.Hour)
}

func (d Daily) Validate() error {
	return validateClock(d.Hour, d.Minute)
}

// Weekly fires on Day at Hour:Minute.
type Weekly struct {
	Day    time.Weekday
	Hour   int
	Minute int
}

func (w Weekly) Spec() string {
	return fmt.Sprintf("%d %d * * %d", w.Minute, w.Hour, int(w.Day))
}

func (w Weekly) Validate() error {
	if w.Day < time.Sunday || w.Day > time.Saturday {
		return fmt.Errorf("%w: weekday %d", ErrInvalidRule, int(w.Day))
	}
	return validateClock(w.Hour, w.Minute)
}

func validateClock(hour, minute int) error {
	if hour < 0 || hour > 23 {
		return fmt.Errorf("%w: hour %d", ErrInvalidRule, hour)
	}
	if minute < 0 || minute > 59 {
		return fmt.Errorf("%w: minute %d", ErrInvalidRule, minute)
	}
	return nil
}

// NextFireTime returns the first time after now matching rule, in now's
// location. A time already passed today rolls over to the next occurrence.
func NextFireTime(rule Rule, now time.Time) (time.Time, error) {
	if err := rule.Validate(); err != nil {
		return time.Time{}, err
	}
	sched, err := cronParser.Parse(rule.Spec())
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return sched.Next(now), nil
}
