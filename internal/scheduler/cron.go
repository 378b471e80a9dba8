// Package scheduler runs governance jobs on cron schedules with file-lock
// overlap prevention and per-category concurrency caps.
package scheduler

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// CronExpr represents a parsed 5-field cron expression.
// Fields: minute, hour, day-of-month, month, day-of-week.
type CronExpr struct {
	Minute     []int
	Hour       []int
	DayOfMonth []int
	Month      []int
	DayOfWeek  []int

	expr string
}

var cronDescriptors = map[string]string{
	"@hourly":  "0 * * * *",
	"@daily":   "0 0 * * *",
	"@weekly":  "0 0 * * 0",
	"@monthly": "0 0 1 * *",
}

var weekdayNames = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

// ParseCron parses a standard 5-field cron expression or one of the
// descriptors @hourly, @daily, @weekly, @monthly.
// Fields support *, */N, N, N-M, N-M/S and comma lists; day-of-week also
// accepts three-letter names (mon, tue, ...).
func ParseCron(expr string) (*CronExpr, error) {
	source := strings.TrimSpace(expr)
	if d, ok := cronDescriptors[strings.ToLower(source)]; ok {
		expr = d
	}
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron: expected 5 fields, got %d", len(fields))
	}

	specs := []struct {
		name     string
		min, max int
		names    map[string]int
	}{
		{"minute", 0, 59, nil},
		{"hour", 0, 23, nil},
		{"day-of-month", 1, 31, nil},
		{"month", 1, 12, nil},
		{"day-of-week", 0, 6, weekdayNames},
	}
	parsed := make([][]int, len(specs))
	for i, spec := range specs {
		vals, err := parseField(fields[i], spec.min, spec.max, spec.names)
		if err != nil {
			return nil, fmt.Errorf("cron: %s: %w", spec.name, err)
		}
		parsed[i] = vals
	}

	return &CronExpr{
		Minute:     parsed[0],
		Hour:       parsed[1],
		DayOfMonth: parsed[2],
		Month:      parsed[3],
		DayOfWeek:  parsed[4],
		expr:       source,
	}, nil
}

// String returns the expression as written.
func (c *CronExpr) String() string { return c.expr }

// Matches returns true if t falls within the cron expression.
func (c *CronExpr) Matches(t time.Time) bool {
	return slices.Contains(c.Minute, t.Minute()) &&
		slices.Contains(c.Hour, t.Hour()) &&
		slices.Contains(c.DayOfMonth, t.Day()) &&
		slices.Contains(c.Month, int(t.Month())) &&
		slices.Contains(c.DayOfWeek, int(t.Weekday()))
}

// Next returns the next time after t that matches the cron expression.
// Searches up to 2 years ahead; returns zero time if not found.
func (c *CronExpr) Next(t time.Time) time.Time {
	candidate := t.Truncate(time.Minute).Add(time.Minute)
	limit := t.Add(2 * 365 * 24 * time.Hour)
	loc := candidate.Location()

	for candidate.Before(limit) {
		y, m, d := candidate.Date()
		switch {
		case !slices.Contains(c.Month, int(m)):
			candidate = time.Date(y, m+1, 1, 0, 0, 0, 0, loc)
		case !slices.Contains(c.DayOfMonth, d) || !slices.Contains(c.DayOfWeek, int(candidate.Weekday())):
			candidate = time.Date(y, m, d+1, 0, 0, 0, 0, loc)
		case !slices.Contains(c.Hour, candidate.Hour()):
			candidate = time.Date(y, m, d, candidate.Hour()+1, 0, 0, 0, loc)
		case !slices.Contains(c.Minute, candidate.Minute()):
			candidate = candidate.Add(time.Minute)
		default:
			return candidate
		}
	}
	return time.Time{}
}

// parseField parses a single cron field into a sorted list of integers.
func parseField(field string, lo, hi int, names map[string]int) ([]int, error) {
	if field == "*" {
		return stepSlice(lo, hi, 1), nil
	}
	var out []int
	for _, part := range strings.Split(field, ",") {
		vals, err := parsePart(part, lo, hi, names)
		if err != nil {
			return nil, err
		}
		out = append(out, vals...)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// parsePart parses a single part: */N, N, N-M, N-M/S.
func parsePart(part string, lo, hi int, names map[string]int) ([]int, error) {
	base, stepText, hasStep := strings.Cut(part, "/")
	step := 1
	if hasStep {
		n, err := strconv.Atoi(stepText)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid step in %q", part)
		}
		step = n
	}

	if base == "*" {
		if !hasStep {
			return stepSlice(lo, hi, 1), nil
		}
		return stepSlice(lo, hi, step), nil
	}

	if from, to, isRange := strings.Cut(base, "-"); isRange {
		start, err := parseValue(from, names)
		if err != nil {
			return nil, fmt.Errorf("invalid range start %q", from)
		}
		end, err := parseValue(to, names)
		if err != nil {
			return nil, fmt.Errorf("invalid range end %q", to)
		}
		if start < lo || end > hi || start > end {
			return nil, fmt.Errorf("range %d-%d out of bounds [%d,%d]", start, end, lo, hi)
		}
		return stepSlice(start, end, step), nil
	}

	if hasStep {
		return nil, fmt.Errorf("step requires a range in %q", part)
	}
	val, err := parseValue(base, names)
	if err != nil {
		return nil, fmt.Errorf("invalid value %q", base)
	}
	if val < lo || val > hi {
		return nil, fmt.Errorf("value %d out of bounds [%d,%d]", val, lo, hi)
	}
	return []int{val}, nil
}

func parseValue(s string, names map[string]int) (int, error) {
	if v, ok := names[strings.ToLower(s)]; ok {
		return v, nil
	}
	return strconv.Atoi(s)
}

func stepSlice(lo, hi, step int) []int {
	out := make([]int, 0, (hi-lo)/step+1)
	for i := lo; i <= hi; i += step {
		out = append(out, i)
	}
	return out
}
