package scheduler

import (
	"testing"
	"time"
)

func TestParseCronValid(t *testing.T) {
	for _, expr := range []string{
		"* * * * *",
		"*/5 * * * *",
		"0 6 * * 1",
		"30 4 1,15 * *",
		"0-30/5 9-17 * * 1-5",
		"0 6 * * mon",
		"0 6 * * mon-fri",
		"@weekly",
		"@DAILY",
	} {
		if _, err := ParseCron(expr); err != nil {
			t.Errorf("ParseCron(%q) returned error: %v", expr, err)
		}
	}
}

func TestParseCronInvalid(t *testing.T) {
	for _, expr := range []string{
		"",
		"* * *",
		"60 * * * *",
		"* 25 * * *",
		"* * 32 * *",
		"* * * 13 *",
		"* * * * 7",
		"*/0 * * * *",
		"5/2 * * * *",
		"abc * * * *",
		"* * * * funday",
		"@yearly",
	} {
		if _, err := ParseCron(expr); err == nil {
			t.Errorf("ParseCron(%q) should have returned error", expr)
		}
	}
}

func TestCronMatches(t *testing.T) {
	monday := time.Date(2026, 2, 16, 6, 0, 0, 0, time.UTC)
	tests := []struct {
		expr string
		at   time.Time
		want bool
	}{
		{"* * * * *", monday, true},
		{"0 6 * * 1", monday, true},
		{"0 6 * * mon", monday, true},
		{"0 6 * * 1", monday.Add(time.Minute), false},
		{"0 6 * * 1", monday.AddDate(0, 0, 1), false},
		{"*/5 * * * *", time.Date(2026, 2, 15, 10, 15, 0, 0, time.UTC), true},
		{"*/5 * * * *", time.Date(2026, 2, 15, 10, 13, 0, 0, time.UTC), false},
		{"0-30/5 9-17 * * 1-5", time.Date(2026, 2, 16, 10, 15, 0, 0, time.UTC), true},
		{"0-30/5 9-17 * * 1-5", time.Date(2026, 2, 14, 10, 15, 0, 0, time.UTC), false},
		{"30 4 1,15 * *", time.Date(2026, 3, 15, 4, 30, 0, 0, time.UTC), true},
		{"30 4 1,15 * *", time.Date(2026, 3, 2, 4, 30, 0, 0, time.UTC), false},
		{"@weekly", time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC), true},
	}
	for _, tc := range tests {
		c, err := ParseCron(tc.expr)
		if err != nil {
			t.Fatalf("ParseCron(%q): %v", tc.expr, err)
		}
		if got := c.Matches(tc.at); got != tc.want {
			t.Errorf("%q.Matches(%v) = %v, want %v", tc.expr, tc.at, got, tc.want)
		}
	}
}

func TestCronNext(t *testing.T) {
	tests := []struct {
		expr string
		from time.Time
		want time.Time
	}{
		{"* * * * *", time.Date(2026, 2, 15, 10, 30, 45, 0, time.UTC), time.Date(2026, 2, 15, 10, 31, 0, 0, time.UTC)},
		{"*/5 * * * *", time.Date(2026, 2, 15, 10, 12, 0, 0, time.UTC), time.Date(2026, 2, 15, 10, 15, 0, 0, time.UTC)},
		{"0 0 * * *", time.Date(2026, 2, 15, 23, 59, 0, 0, time.UTC), time.Date(2026, 2, 16, 0, 0, 0, 0, time.UTC)},
		{DefaultRolloutEvaluateCron, time.Date(2026, 2, 16, 6, 0, 0, 0, time.UTC), time.Date(2026, 2, 23, 6, 0, 0, 0, time.UTC)},
		{DefaultRolloutEvaluateCron, time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC), time.Date(2026, 2, 23, 6, 0, 0, 0, time.UTC)},
		{"0 0 1 1 *", time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range tests {
		c, err := ParseCron(tc.expr)
		if err != nil {
			t.Fatalf("ParseCron(%q): %v", tc.expr, err)
		}
		if got := c.Next(tc.from); !got.Equal(tc.want) {
			t.Errorf("%q.Next(%v) = %v, want %v", tc.expr, tc.from, got, tc.want)
		}
	}
}

func TestCronString(t *testing.T) {
	c, _ := ParseCron(" 0 6 * * 1 ")
	if c.String() != "0 6 * * 1" {
		t.Errorf("String() = %q", c.String())
	}
}
