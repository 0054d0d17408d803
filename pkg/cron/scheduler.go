package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Next calculates the first run time strictly after now. A zero time with a
// nil error means the schedule will not fire again.
func (s Schedule) Next(now time.Time) (time.Time, error) {
	switch s.Kind {
	case ScheduleKindAt:
		return s.nextAt(now)
	case ScheduleKindEvery:
		return s.nextEvery(now)
	case ScheduleKindCron:
		return s.nextCron(now)
	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind: %s", s.Kind)
	}
}

func (s Schedule) nextAt(now time.Time) (time.Time, error) {
	if s.At == "" {
		return time.Time{}, fmt.Errorf("'at' schedule requires 'at' field")
	}
	t, err := time.Parse(time.RFC3339, s.At)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp: %w", err)
	}
	// A past timestamp still fires once, immediately.
	return t, nil
}

func (s Schedule) nextEvery(now time.Time) (time.Time, error) {
	if s.Every <= 0 {
		return time.Time{}, fmt.Errorf("'every' schedule requires a positive interval")
	}

	if s.Anchor == nil {
		return now.Add(s.Every), nil
	}

	anchor := *s.Anchor
	elapsed := now.Sub(anchor)
	if elapsed < 0 {
		return anchor, nil
	}
	periods := elapsed / s.Every
	return anchor.Add((periods + 1) * s.Every), nil
}

func (s Schedule) nextCron(now time.Time) (time.Time, error) {
	if s.Expr == "" {
		return time.Time{}, fmt.Errorf("'cron' schedule requires 'expr' field")
	}

	sched, err := parser.Parse(s.Expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}

	if s.TZ != "" {
		loc, err := time.LoadLocation(s.TZ)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timezone: %w", err)
		}
		now = now.In(loc)
	}

	return sched.Next(now), nil
}
