package cron

import (
	"fmt"
	"strings"
	"time"
)

// ScheduleKind represents the type of schedule
type ScheduleKind string

const (
	ScheduleKindAt    ScheduleKind = "at"
	ScheduleKindEvery ScheduleKind = "every"
	ScheduleKindCron  ScheduleKind = "cron"
)

// Schedule represents a time specification for recurring runs
type Schedule struct {
	Kind ScheduleKind `json:"kind"`

	// For "at" schedule
	At string `json:"at,omitempty"` // RFC 3339 timestamp

	// For "every" schedule
	Every  time.Duration `json:"every,omitempty"`
	Anchor *time.Time    `json:"anchor,omitempty"` // Optional alignment point

	// For "cron" schedule
	Expr string `json:"expr,omitempty"` // 5-field expression or @descriptor
	TZ   string `json:"tz,omitempty"`   // Optional timezone
}

// ParseSchedule reads a schedule from its command-line form:
//
//	@every 6h            fixed interval
//	2026-01-02T09:00:00Z single run at a timestamp
//	0 9 * * 1-5          cron expression, also @daily, @hourly, ...
func ParseSchedule(spec string) (Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Schedule{}, fmt.Errorf("empty schedule")
	}

	if rest, ok := strings.CutPrefix(spec, "@every "); ok {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil {
			return Schedule{}, fmt.Errorf("invalid interval: %w", err)
		}
		s := Schedule{Kind: ScheduleKindEvery, Every: d}
		return s, s.Validate()
	}

	if _, err := time.Parse(time.RFC3339, spec); err == nil {
		return Schedule{Kind: ScheduleKindAt, At: spec}, nil
	}

	s := Schedule{Kind: ScheduleKindCron, Expr: spec}
	return s, s.Validate()
}

// Validate checks that the schedule can produce a next run time.
func (s Schedule) Validate() error {
	_, err := s.Next(time.Now())
	return err
}

// String returns the schedule in the form accepted by ParseSchedule.
func (s Schedule) String() string {
	switch s.Kind {
	case ScheduleKindAt:
		return s.At
	case ScheduleKindEvery:
		return "@every " + s.Every.String()
	default:
		return s.Expr
	}
}

// JobState tracks runtime state of the scheduled job
type JobState struct {
	NextRunAt         time.Time     `json:"next_run_at,omitempty"`
	LastRunAt         time.Time     `json:"last_run_at,omitempty"`
	LastStatus        string        `json:"last_status,omitempty"` // "ok" or "error"
	LastError         string        `json:"last_error,omitempty"`
	LastDuration      time.Duration `json:"last_duration,omitempty"`
	Runs              int           `json:"runs"`
	ConsecutiveErrors int           `json:"consecutive_errors,omitempty"`
}
