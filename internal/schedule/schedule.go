// Package schedule parses and evaluates the recurrence of scheduled research.
// A schedule is stored as JSON: {"kind":"cron","cron_expr":"0 9 * * 1"},
// {"kind":"interval","interval_ms":86400000} or {"kind":"once","at_ms":...}.
package schedule

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

const (
	KindCron     = "cron"
	KindInterval = "interval"
	KindOnce     = "once"
)

type Schedule struct {
	Kind       string `json:"kind"`
	CronExpr   string `json:"cron_expr,omitempty"`
	IntervalMs int64  `json:"interval_ms,omitempty"`
	AtMs       int64  `json:"at_ms,omitempty"`
}

func Parse(raw string) (*Schedule, error) {
	var s Schedule
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("parse schedule: %w", err)
	}
	return &s, nil
}

func (s *Schedule) Validate() error {
	switch s.Kind {
	case KindCron:
		if !gronx.New().IsValid(s.CronExpr) {
			return fmt.Errorf("invalid cron expression: %s", s.CronExpr)
		}
	case KindInterval:
		if s.IntervalMs < time.Minute.Milliseconds() {
			return fmt.Errorf("interval must be at least one minute")
		}
	case KindOnce:
		if s.AtMs <= 0 {
			return fmt.Errorf("at_ms must be positive")
		}
	default:
		return fmt.Errorf("unknown schedule kind: %q", s.Kind)
	}
	return nil
}

// Next returns the first run strictly after from, or nil when the schedule
// will not fire again.
func (s *Schedule) Next(from time.Time) *time.Time {
	var next time.Time
	switch s.Kind {
	case KindCron:
		t, err := gronx.NextTickAfter(s.CronExpr, from, false)
		if err != nil {
			return nil
		}
		next = t
	case KindInterval:
		if s.IntervalMs <= 0 {
			return nil
		}
		next = from.Add(time.Duration(s.IntervalMs) * time.Millisecond)
	case KindOnce:
		next = time.UnixMilli(s.AtMs)
		if !next.After(from) {
			return nil
		}
	default:
		return nil
	}
	return &next
}

// CalculateNextRun parses a stored schedule and returns its next run after
// now, or nil.
func CalculateNextRun(raw string) *time.Time {
	s, err := Parse(raw)
	if err != nil {
		return nil
	}
	return s.Next(time.Now())
}

func (s *Schedule) String() string {
	switch s.Kind {
	case KindCron:
		return "cron " + s.CronExpr
	case KindInterval:
		d := time.Duration(s.IntervalMs) * time.Millisecond
		switch {
		case d >= 24*time.Hour && d%(24*time.Hour) == 0:
			return plural(int(d/(24*time.Hour)), "day")
		case d >= time.Hour && d%time.Hour == 0:
			return plural(int(d/time.Hour), "hour")
		default:
			return plural(int(d/time.Minute), "minute")
		}
	case KindOnce:
		return "once at " + time.UnixMilli(s.AtMs).UTC().Format("2006-01-02 15:04 MST")
	default:
		return s.Kind
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "every " + unit
	}
	return fmt.Sprintf("every %d %ss", n, unit)
}

// Describe renders a stored schedule for humans. Unparsable input is
// returned as is.
func Describe(raw string) string {
	s, err := Parse(raw)
	if err != nil {
		return raw
	}
	return s.String()
}

// Normalize accepts a JSON schedule, a cron expression ("0 9 * * 1",
// "@daily"), a Go duration prefixed with "every " ("every 24h") or an
// RFC3339 time, and returns validated JSON for storage.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty schedule")
	}

	var s Schedule
	switch {
	case strings.HasPrefix(raw, "{"):
		parsed, err := Parse(raw)
		if err != nil {
			return "", err
		}
		s = *parsed
	case strings.HasPrefix(raw, "every "):
		d, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(raw, "every ")))
		if err != nil {
			return "", fmt.Errorf("parse interval: %w", err)
		}
		s = Schedule{Kind: KindInterval, IntervalMs: d.Milliseconds()}
	default:
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			s = Schedule{Kind: KindOnce, AtMs: t.UnixMilli()}
		} else {
			s = Schedule{Kind: KindCron, CronExpr: raw}
		}
	}

	if err := s.Validate(); err != nil {
		return "", err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
