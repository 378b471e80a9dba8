package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/itellico/joi-sub010/internal/rollout"
	"github.com/itellico/joi-sub010/internal/store"
)

type memRecorder struct {
	mu   sync.Mutex
	runs map[string][]string
}

func (m *memRecorder) UpsertScheduledJob(_ context.Context, name, status string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs == nil {
		m.runs = map[string][]string{}
	}
	m.runs[name] = append(m.runs[name], status)
	return nil
}

func (m *memRecorder) statuses(name string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.runs[name]...)
}

func testConfig(t *testing.T) Config {
	return Config{
		Enabled:           true,
		TickInterval:      50 * time.Millisecond,
		MaxConcEvaluation: 1,
		MaxConcDefault:    5,
		LockPath:          filepath.Join(t.TempDir(), "test.lock"),
	}
}

func TestSchedulerDispatch(t *testing.T) {
	rec := &memRecorder{}
	s := New(testConfig(t), rec)

	var runs atomic.Int32
	cron, _ := ParseCron("* * * * *")
	s.Register(&Job{
		Name:     "test-job",
		Cron:     cron,
		Category: CategoryDefault,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	s.tick(context.Background(), time.Now())
	s.Wait()

	if runs.Load() != 1 {
		t.Errorf("expected 1 run, got %d", runs.Load())
	}
	if got := rec.statuses("test-job"); len(got) != 1 || got[0] != StatusOK {
		t.Errorf("unexpected recorded statuses: %v", got)
	}
}

func TestSchedulerFiresOncePerMinute(t *testing.T) {
	s := New(testConfig(t), nil)
	var runs atomic.Int32
	cron, _ := ParseCron("* * * * *")
	s.Register(&Job{Name: "minutely", Cron: cron, Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}})

	base := time.Date(2026, 2, 16, 6, 0, 5, 0, time.UTC)
	s.tick(context.Background(), base)
	s.tick(context.Background(), base.Add(30*time.Second))
	s.tick(context.Background(), base.Add(60*time.Second))
	s.Wait()

	if runs.Load() != 2 {
		t.Errorf("expected 2 runs across two minutes, got %d", runs.Load())
	}
}

func TestSchedulerRecordsFailure(t *testing.T) {
	rec := &memRecorder{}
	s := New(testConfig(t), rec)
	cron, _ := ParseCron("* * * * *")
	s.Register(&Job{Name: "broken", Cron: cron, Run: func(context.Context) error {
		return errors.New("boom")
	}})

	s.tick(context.Background(), time.Now())
	s.Wait()

	if got := rec.statuses("broken"); len(got) != 1 || got[0] != StatusError {
		t.Errorf("unexpected recorded statuses: %v", got)
	}
}

func TestSchedulerConcurrencyLimit(t *testing.T) {
	rec := &memRecorder{}
	s := New(testConfig(t), rec)
	release := make(chan struct{})
	cron, _ := ParseCron("* * * * *")
	for _, name := range []string{"eval-a", "eval-b"} {
		s.Register(&Job{Name: name, Cron: cron, Category: CategoryEvaluation, Run: func(context.Context) error {
			<-release
			return nil
		}})
	}

	s.tick(context.Background(), time.Now())
	close(release)
	s.Wait()

	skipped := 0
	for _, name := range []string{"eval-a", "eval-b"} {
		for _, st := range rec.statuses(name) {
			if st == StatusSkippedConcurrency {
				skipped++
			}
		}
	}
	if skipped != 1 {
		t.Errorf("expected exactly one job skipped by the evaluation semaphore, got %d", skipped)
	}
}

func TestSchedulerLockPreventsOverlap(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "overlap.lock")

	cfg := testConfig(t)
	cfg.LockPath = lockPath
	s1 := New(cfg, nil)
	s2 := New(cfg, nil)

	var runs atomic.Int32
	cron, _ := ParseCron("* * * * *")
	s2.Register(&Job{Name: "overlap-2", Cron: cron, Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}})

	acquired, err := s1.lock.TryLock()
	if err != nil || !acquired {
		t.Fatal("s1 should acquire lock")
	}

	// s2 must skip the tick while s1 holds the lock.
	s2.tick(context.Background(), time.Now())
	s2.Wait()
	if runs.Load() != 0 {
		t.Error("s2 should not run jobs while s1 holds the lock")
	}

	s1.lock.Unlock()

	acquired, err = s2.lock.TryLock()
	if err != nil {
		t.Fatal("unexpected error on s2 retry:", err)
	}
	if !acquired {
		t.Error("s2 should acquire lock after s1 released")
	}
	s2.lock.Unlock()
}

func TestSemaphoreConcurrencyLimit(t *testing.T) {
	sem := NewSemaphore(CategoryDefault, 2)

	if !sem.TryAcquire() {
		t.Error("first acquire should succeed")
	}
	if !sem.TryAcquire() {
		t.Error("second acquire should succeed")
	}
	if sem.TryAcquire() {
		t.Error("third acquire should fail (size=2)")
	}
	if sem.InUse() != 2 || sem.Size() != 2 {
		t.Errorf("InUse/Size = %d/%d, want 2/2", sem.InUse(), sem.Size())
	}

	sem.Release()
	if sem.InUse() != 1 {
		t.Errorf("InUse() = %d, want 1", sem.InUse())
	}
	if !sem.TryAcquire() {
		t.Error("acquire after release should succeed")
	}
	if NewSemaphore(CategoryEvaluation, 0).Size() != 1 {
		t.Error("non-positive size should clamp to 1")
	}
}

func TestFileLockRejectsReentry(t *testing.T) {
	l := NewFileLock(filepath.Join(t.TempDir(), "reentry.lock"))
	acquired, err := l.TryLock()
	if err != nil || !acquired {
		t.Fatalf("first TryLock: acquired=%v err=%v", acquired, err)
	}
	if _, err := l.TryLock(); err == nil {
		t.Error("second TryLock on the same FileLock should fail")
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if err := l.Unlock(); err != nil {
		t.Errorf("Unlock when not held should be a no-op, got %v", err)
	}
	acquired, err = l.TryLock()
	if err != nil || !acquired {
		t.Fatalf("TryLock after Unlock: acquired=%v err=%v", acquired, err)
	}
	_ = l.Unlock()
}

func TestSchedulerNonMatchingJobNotDispatched(t *testing.T) {
	s := New(testConfig(t), nil)

	var runs atomic.Int32
	job, err := NewRolloutEvaluateJob("", evaluatorFunc(func(context.Context) (*rollout.AllResult, error) {
		runs.Add(1)
		return &rollout.AllResult{}, nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	s.Register(job)

	// Sunday noon does not match the Monday 06:00 schedule.
	s.tick(context.Background(), time.Date(2026, 2, 15, 12, 30, 0, 0, time.UTC))
	s.Wait()
	if runs.Load() != 0 {
		t.Errorf("expected no run at Sunday noon, got %d", runs.Load())
	}

	s.tick(context.Background(), time.Date(2026, 2, 16, 6, 0, 0, 0, time.UTC))
	s.Wait()
	if runs.Load() != 1 {
		t.Errorf("expected one run on Monday 06:00, got %d", runs.Load())
	}
}

type evaluatorFunc func(context.Context) (*rollout.AllResult, error)

func (f evaluatorFunc) EvaluateAll(ctx context.Context) (*rollout.AllResult, error) { return f(ctx) }

func TestRolloutEvaluateJobReportsErrors(t *testing.T) {
	job, err := NewRolloutEvaluateJob("0 6 * * 1", evaluatorFunc(func(context.Context) (*rollout.AllResult, error) {
		return &rollout.AllResult{Errors: []string{"r1: disk full"}}, nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	if job.Name != RolloutEvaluateJobName || job.Category != CategoryEvaluation {
		t.Fatalf("unexpected job: %+v", job)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Error("expected failed evaluations to fail the run")
	}

	if _, err := NewRolloutEvaluateJob("not a cron", nil); err == nil {
		t.Error("expected invalid cron to be rejected")
	}
}

func TestSchedulerRecordsToStore(t *testing.T) {
	st, err := store.Open(context.Background(), store.Options{Path: filepath.Join(t.TempDir(), "jobs.db")})
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	s := New(testConfig(t), st)
	cron, _ := ParseCron("* * * * *")
	s.Register(&Job{Name: "persisted", Cron: cron, Run: func(context.Context) error { return nil }})
	s.tick(context.Background(), time.Now())
	s.Wait()

	jobs, err := st.ListScheduledJobs(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].JobName != "persisted" || jobs[0].LastStatus != StatusOK || jobs[0].RunCount != 1 {
		t.Fatalf("unexpected job records: %+v", jobs)
	}
}

func TestSchedulerStatus(t *testing.T) {
	s := New(Config{TickInterval: time.Second}, nil)
	if s.lock != nil {
		t.Fatal("empty LockPath should disable the file lock")
	}
	job, err := NewRolloutEvaluateJob("0 6 * * 1", evaluatorFunc(func(context.Context) (*rollout.AllResult, error) {
		return &rollout.AllResult{}, nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	s.Register(job)
	minutely, _ := ParseCron("* * * * *")
	s.Register(&Job{Name: "a-failing", Cron: minutely, Run: func(context.Context) error { return errors.New("boom") }})

	monday := time.Date(2026, 2, 16, 6, 0, 0, 0, time.UTC)
	s.tick(context.Background(), monday)
	s.Wait()

	got := s.Status(monday.Add(time.Minute))
	if len(got) != 2 || got[0].Name != "a-failing" || got[1].Name != RolloutEvaluateJobName {
		t.Fatalf("unexpected status order: %+v", got)
	}
	if got[0].LastStatus != StatusError || got[0].Running {
		t.Errorf("unexpected failing job status: %+v", got[0])
	}
	eval := got[1]
	if eval.LastStatus != StatusOK || eval.LastRunAt == nil || !eval.LastRunAt.Equal(monday) {
		t.Errorf("unexpected evaluate job status: %+v", eval)
	}
	if eval.NextRunAt == nil || !eval.NextRunAt.Equal(monday.AddDate(0, 0, 7)) {
		t.Errorf("expected next run a week later, got %v", eval.NextRunAt)
	}
	if eval.Schedule != "0 6 * * 1" || eval.Category != CategoryEvaluation {
		t.Errorf("unexpected schedule/category: %+v", eval)
	}
}
