package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind is the trigger shape of a schedule
type Kind string

const (
	KindOnce     Kind = "once"
	KindInterval Kind = "interval"
	KindDaily    Kind = "daily"
	KindWeekly   Kind = "weekly"
	KindMonthly  Kind = "monthly"
	KindCron     Kind = "cron"
)

// Schedule is one time-based trigger definition
type Schedule struct {
	ID           string `yaml:"id" json:"id"`
	Name         string `yaml:"name" json:"name"`
	WorkflowPath string `yaml:"workflow_path" json:"workflow_path"`
	Kind         Kind   `yaml:"kind" json:"kind"`
	Enabled      bool   `yaml:"enabled" json:"enabled"`

	// Kind-specific fields
	At         time.Time     `yaml:"at,omitempty" json:"at,omitempty"`                   // once
	Every      time.Duration `yaml:"every,omitempty" json:"every,omitempty"`             // interval
	Hour       int           `yaml:"hour,omitempty" json:"hour,omitempty"`               // daily/weekly/monthly
	Minute     int           `yaml:"minute,omitempty" json:"minute,omitempty"`           // daily/weekly/monthly
	Weekday    time.Weekday  `yaml:"weekday,omitempty" json:"weekday,omitempty"`         // weekly
	DayOfMonth int           `yaml:"day_of_month,omitempty" json:"day_of_month,omitempty"` // monthly
	CronExpr   string        `yaml:"cron,omitempty" json:"cron,omitempty"`               // cron

	// Runtime bookkeeping
	LastRun      time.Time `yaml:"-" json:"last_run,omitempty"`
	NextRun      time.Time `yaml:"-" json:"next_run,omitempty"`
	RunCount     int       `yaml:"-" json:"run_count"`
	SuccessCount int       `yaml:"-" json:"success_count"`
	FailureCount int       `yaml:"-" json:"failure_count"`

	cronSchedule cron.Schedule
}

// cronParser accepts standard 5-field expressions and 6-field expressions
// with a leading seconds column.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate checks the definition and compiles the cron expression
func (s *Schedule) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("schedule id is required")
	}
	if s.WorkflowPath == "" {
		return fmt.Errorf("schedule %s: workflow path is required", s.ID)
	}

	switch s.Kind {
	case KindOnce:
		if s.At.IsZero() {
			return fmt.Errorf("schedule %s: one-shot schedule needs a run time", s.ID)
		}
	case KindInterval:
		if s.Every <= 0 {
			return fmt.Errorf("schedule %s: interval must be positive", s.ID)
		}
	case KindDaily, KindWeekly, KindMonthly:
		if s.Hour < 0 || s.Hour > 23 || s.Minute < 0 || s.Minute > 59 {
			return fmt.Errorf("schedule %s: invalid time %02d:%02d", s.ID, s.Hour, s.Minute)
		}
		if s.Kind == KindMonthly && (s.DayOfMonth < 1 || s.DayOfMonth > 31) {
			return fmt.Errorf("schedule %s: invalid day of month %d", s.ID, s.DayOfMonth)
		}
	case KindCron:
		parsed, err := cronParser.Parse(s.CronExpr)
		if err != nil {
			return fmt.Errorf("schedule %s: unparseable cron expression %q: %w", s.ID, s.CronExpr, err)
		}
		s.cronSchedule = parsed
	default:
		return fmt.Errorf("schedule %s: unknown kind %q", s.ID, s.Kind)
	}
	return nil
}

// NextAfter computes the next fire time strictly after t. A zero return
// means the schedule will never fire again.
func (s *Schedule) NextAfter(t time.Time) time.Time {
	switch s.Kind {
	case KindOnce:
		if s.At.After(t) {
			return s.At
		}
		if s.LastRun.IsZero() {
			// Overdue one-shot fires immediately
			return t
		}
		return time.Time{}

	case KindInterval:
		if s.LastRun.IsZero() {
			return t
		}
		next := s.LastRun.Add(s.Every)
		if next.Before(t) {
			return t
		}
		return next

	case KindDaily:
		next := time.Date(t.Year(), t.Month(), t.Day(), s.Hour, s.Minute, 0, 0, t.Location())
		if !next.After(t) {
			next = next.AddDate(0, 0, 1)
		}
		return next

	case KindWeekly:
		next := time.Date(t.Year(), t.Month(), t.Day(), s.Hour, s.Minute, 0, 0, t.Location())
		days := (int(s.Weekday) - int(next.Weekday()) + 7) % 7
		next = next.AddDate(0, 0, days)
		if !next.After(t) {
			next = next.AddDate(0, 0, 7)
		}
		return next

	case KindMonthly:
		month := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
		for i := 0; i < 48; i++ {
			next := time.Date(month.Year(), month.Month(), s.DayOfMonth, s.Hour, s.Minute, 0, 0, t.Location())
			// Months without the requested day are skipped (e.g. Feb 31)
			if next.Day() == s.DayOfMonth && next.After(t) {
				return next
			}
			month = month.AddDate(0, 1, 0)
		}
		return time.Time{}

	case KindCron:
		if s.cronSchedule == nil {
			return time.Time{}
		}
		return s.cronSchedule.Next(t)
	}
	return time.Time{}
}
