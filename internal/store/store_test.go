package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "governance.db")
	s, err := Open(context.Background(), Options{Path: dbPath})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// fixedClock returns a settable clock for window tests.
func fixedClock(s *Store, start time.Time) func(time.Time) {
	now := start
	s.SetClock(func() time.Time { return now })
	return func(t time.Time) { now = t }
}

func TestOpenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "governance.db")
	s, err := Open(ctx, Options{Path: dbPath})
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := s.SetSetting(ctx, "marker", "1"); err != nil {
		t.Fatalf("set setting: %v", err)
	}
	_ = s.Close()

	s, err = Open(ctx, Options{Path: dbPath})
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s.Close()
	val, err := s.GetSetting(ctx, "marker")
	if err != nil || val != "1" {
		t.Fatalf("expected persisted setting, got %q err=%v", val, err)
	}
}

func TestOpenWithMattnDriver(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "governance.db")
	s, err := Open(ctx, Options{Driver: DriverMattn, Path: dbPath})
	if err != nil {
		t.Fatalf("open with %s: %v", DriverMattn, err)
	}
	a := insertTestAnalysis(t, s, "msg-1")
	if _, err := s.CreateSoulVersion(ctx, "personal", "# soul", "ops", "seed", true); err != nil {
		t.Fatalf("create soul: %v", err)
	}
	_ = s.Close()

	// The file stays readable by the default driver.
	s, err = Open(ctx, Options{Path: dbPath})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.GetAnalysis(ctx, a.ID)
	if err != nil || got.MessageID != "msg-1" {
		t.Fatalf("expected analysis after reopen, got %+v err=%v", got, err)
	}
	v, err := s.ActiveSoulVersion(ctx, "personal")
	if err != nil || v.Content != "# soul" {
		t.Fatalf("expected active soul after reopen, got %+v err=%v", v, err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "postgres", Path: filepath.Join(t.TempDir(), "x.db")})
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestGetSettingMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetSetting(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestObserverConfigSeedsDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	defaults := ObserverConfig{Enabled: true, QualityThreshold: 0.6, SkipDryRun: true, MinUserMessageLength: 5}

	cfg, err := s.ObserverConfig(ctx, defaults)
	if err != nil {
		t.Fatalf("observer config: %v", err)
	}
	if cfg != defaults {
		t.Fatalf("expected defaults, got %+v", cfg)
	}

	updated := cfg
	updated.Enabled = false
	updated.QualityThreshold = 0.8
	if err := s.SetObserverConfig(ctx, updated); err != nil {
		t.Fatalf("set observer config: %v", err)
	}
	cfg, err = s.ObserverConfig(ctx, defaults)
	if err != nil {
		t.Fatalf("observer config after update: %v", err)
	}
	if cfg != updated {
		t.Fatalf("expected persisted config %+v, got %+v", updated, cfg)
	}

	bad := updated
	bad.QualityThreshold = 1.5
	if err := s.SetObserverConfig(ctx, bad); err == nil {
		t.Fatal("expected validation error for threshold > 1")
	}
}

func TestScheduledJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	runAt := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)
	if err := s.UpsertScheduledJob(ctx, "rollout-evaluate", "ok", runAt); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertScheduledJob(ctx, "rollout-evaluate", "error", runAt.Add(time.Hour)); err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	jobs, err := s.ListScheduledJobs(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	if jobs[0].RunCount != 2 || jobs[0].LastStatus != "error" {
		t.Fatalf("unexpected job record: %+v", jobs[0])
	}
	if jobs[0].LastRunAt == nil || !jobs[0].LastRunAt.Equal(runAt.Add(time.Hour)) {
		t.Fatalf("unexpected last run: %v", jobs[0].LastRunAt)
	}
}

func TestTransitionTables(t *testing.T) {
	if !CanTransitionAnalysis(AnalysisPending, AnalysisAnalyzing) {
		t.Fatal("pending -> analyzing must be allowed")
	}
	if CanTransitionAnalysis(AnalysisCompleted, AnalysisError) {
		t.Fatal("completed is final")
	}
	if CanTransitionAnalysis(AnalysisAnalyzing, AnalysisPending) {
		t.Fatal("analysis status never moves backwards")
	}
	for _, to := range []string{RolloutPromoted, RolloutRolledBack, RolloutCancelled} {
		if !CanTransitionRollout(RolloutCanaryActive, to) {
			t.Fatalf("canary_active -> %s must be allowed", to)
		}
		if CanTransitionRollout(to, RolloutCanaryActive) {
			t.Fatalf("%s is terminal", to)
		}
	}
}

func TestValidationErrorsMatchErrInvalid(t *testing.T) {
	err := Invalidf("bad value %d", 7)
	if err.Error() != "bad value 7" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, ErrInvalid) || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected only ErrInvalid to match, got %v", err)
	}

	s := newTestStore(t)
	_, err = s.SetRolloutTraffic(context.Background(), "any", 150)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid from traffic validation, got %v", err)
	}
}
