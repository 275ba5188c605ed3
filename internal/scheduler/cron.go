package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed recurrence expression. Supported forms are the
// @-style shortcuts (@hourly, @daily, @weekly, @monthly, @yearly) and
// "@every <duration>" where the duration uses time.ParseDuration syntax
// plus a day suffix ("90m", "12h", "7d").
type Schedule struct {
	expr  string
	kind  scheduleKind
	every time.Duration
}

type scheduleKind int

const (
	everySchedule scheduleKind = iota
	hourlySchedule
	dailySchedule
	weeklySchedule
	monthlySchedule
	yearlySchedule
)

var cronFields = regexp.MustCompile(`^(((\d+,)+\d+|(\d+(/|-)\d+)|\d+|\*) ?){5,7}$`)

// ParseSchedule validates and parses a recurrence expression.
func ParseSchedule(expr string) (Schedule, error) {
	expr = strings.TrimSpace(expr)

	switch expr {
	case "@yearly", "@annually":
		return Schedule{expr: expr, kind: yearlySchedule}, nil
	case "@monthly":
		return Schedule{expr: expr, kind: monthlySchedule}, nil
	case "@weekly":
		return Schedule{expr: expr, kind: weeklySchedule}, nil
	case "@daily", "@midnight":
		return Schedule{expr: expr, kind: dailySchedule}, nil
	case "@hourly":
		return Schedule{expr: expr, kind: hourlySchedule}, nil
	}

	if raw, ok := strings.CutPrefix(expr, "@every "); ok {
		d, err := parseEveryDuration(raw)
		if err != nil {
			return Schedule{}, err
		}
		if d <= 0 {
			return Schedule{}, fmt.Errorf("interval must be positive: %s", expr)
		}
		return Schedule{expr: expr, kind: everySchedule, every: d}, nil
	}

	if cronFields.MatchString(expr) {
		return Schedule{}, fmt.Errorf("field cron expressions are not supported, use @every or a named shortcut: %q", expr)
	}
	return Schedule{}, fmt.Errorf("unrecognized schedule: %q", expr)
}

// MustSchedule is ParseSchedule for expressions fixed at compile time.
func MustSchedule(expr string) Schedule {
	s, err := ParseSchedule(expr)
	if err != nil {
		panic(err)
	}
	return s
}

// Next returns the first run time strictly after the given instant.
func (s Schedule) Next(after time.Time) time.Time {
	switch s.kind {
	case yearlySchedule:
		return time.Date(after.Year()+1, 1, 1, 0, 0, 0, 0, after.Location())
	case monthlySchedule:
		year, month := after.Year(), after.Month()+1
		if month > 12 {
			month = 1
			year++
		}
		return time.Date(year, month, 1, 0, 0, 0, 0, after.Location())
	case weeklySchedule:
		// Next Sunday at midnight.
		days := (7 - int(after.Weekday())) % 7
		if days == 0 {
			days = 7
		}
		return time.Date(after.Year(), after.Month(), after.Day()+days, 0, 0, 0, 0, after.Location())
	case dailySchedule:
		return time.Date(after.Year(), after.Month(), after.Day()+1, 0, 0, 0, 0, after.Location())
	case hourlySchedule:
		return after.Add(time.Hour).Truncate(time.Hour)
	default:
		return after.Add(s.every)
	}
}

func (s Schedule) String() string {
	return s.expr
}

// parseEveryDuration handles time.ParseDuration syntax plus a day suffix,
// which ParseDuration itself rejects.
func parseEveryDuration(raw string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		if n, err := strconv.Atoi(days); err == nil {
			return time.Duration(n) * 24 * time.Hour, nil
		}
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid interval: %q", raw)
	}
	return d, nil
}
