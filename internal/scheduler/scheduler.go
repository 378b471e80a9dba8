package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// JobCategory selects the concurrency pool a job draws from.
type JobCategory string

const (
	CategoryEvaluation JobCategory = "evaluation"
	CategoryDefault    JobCategory = "default"
)

// Run statuses recorded per job.
const (
	StatusOK                 = "ok"
	StatusError              = "error"
	StatusSkippedConcurrency = "skipped_concurrency"
)

// Job is a named unit of work fired on a cron schedule.
type Job struct {
	Name     string
	Cron     *CronExpr
	Category JobCategory
	Run      func(ctx context.Context) error
}

// Recorder persists job runs.
type Recorder interface {
	UpsertScheduledJob(ctx context.Context, name, status string, runAt time.Time) error
}

// Config holds scheduler settings. An empty LockPath disables the
// cross-process lock.
type Config struct {
	Enabled           bool
	TickInterval      time.Duration
	MaxConcEvaluation int
	MaxConcDefault    int
	LockPath          string
}

// JobStatus is a point-in-time view of one registered job.
type JobStatus struct {
	Name       string      `json:"name"`
	Schedule   string      `json:"schedule"`
	Category   JobCategory `json:"category"`
	Running    bool        `json:"running"`
	LastStatus string      `json:"lastStatus,omitempty"`
	LastRunAt  *time.Time  `json:"lastRunAt,omitempty"`
	NextRunAt  *time.Time  `json:"nextRunAt,omitempty"`
}

// slot is the scheduler's bookkeeping for one job.
type slot struct {
	job        *Job
	firedFor   time.Time // minute of the last dispatch
	lastRunAt  time.Time
	lastStatus string
	running    bool
}

// Scheduler fires registered jobs when their cron matches the current
// minute. Ticks are serialized across processes with a file lock and each
// category is capped by a semaphore; a job that cannot get a slot is
// skipped for that minute rather than queued.
type Scheduler struct {
	cfg      Config
	recorder Recorder
	lock     *FileLock
	pools    map[JobCategory]*Semaphore

	mu    sync.Mutex
	slots map[string]*slot

	wg sync.WaitGroup
}

// New creates a Scheduler. recorder may be nil.
func New(cfg Config, recorder Recorder) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.MaxConcDefault <= 0 {
		cfg.MaxConcDefault = 3
	}
	s := &Scheduler{
		cfg:      cfg,
		recorder: recorder,
		pools: map[JobCategory]*Semaphore{
			CategoryEvaluation: NewSemaphore(CategoryEvaluation, cfg.MaxConcEvaluation),
			CategoryDefault:    NewSemaphore(CategoryDefault, cfg.MaxConcDefault),
		},
		slots: make(map[string]*slot),
	}
	if cfg.LockPath != "" {
		s.lock = NewFileLock(cfg.LockPath)
	}
	return s
}

// Register adds or replaces a job.
func (s *Scheduler) Register(job *Job) {
	s.mu.Lock()
	s.slots[job.Name] = &slot{job: job}
	s.mu.Unlock()
	slog.Info("Scheduler job registered", "name", job.Name, "schedule", job.Cron.String(), "category", job.Category)
}

// Status lists registered jobs by name.
func (s *Scheduler) Status(now time.Time) []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.slots))
	for name, sl := range s.slots {
		st := JobStatus{
			Name:       name,
			Schedule:   sl.job.Cron.String(),
			Category:   sl.job.Category,
			Running:    sl.running,
			LastStatus: sl.lastStatus,
		}
		if !sl.lastRunAt.IsZero() {
			t := sl.lastRunAt
			st.LastRunAt = &t
		}
		if next := sl.job.Cron.Next(now); !next.IsZero() {
			st.NextRunAt = &next
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Run ticks until ctx is cancelled, then waits for in-flight jobs.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	n := len(s.slots)
	s.mu.Unlock()
	slog.Info("Scheduler started", "tick", s.cfg.TickInterval, "jobs", n)

	t := time.NewTicker(s.cfg.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			slog.Info("Scheduler stopped")
			return ctx.Err()
		case now := <-t.C:
			s.tick(ctx, now)
		}
	}
}

// Wait blocks until dispatched jobs have finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// tick fires every job whose cron matches now and that has not already
// fired in now's minute.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	if s.lock != nil {
		ok, err := s.lock.TryLock()
		if err != nil {
			slog.Warn("Scheduler lock error", "error", err)
			return
		}
		if !ok {
			slog.Debug("Scheduler tick skipped, lock held elsewhere")
			return
		}
		defer s.lock.Unlock()
	}

	minute := now.Truncate(time.Minute)
	s.mu.Lock()
	var due []*slot
	for _, sl := range s.slots {
		if sl.job.Cron.Matches(now) && !sl.firedFor.Equal(minute) {
			sl.firedFor = minute
			due = append(due, sl)
		}
	}
	s.mu.Unlock()

	for _, sl := range due {
		s.fire(ctx, sl, now)
	}
}

func (s *Scheduler) pool(c JobCategory) *Semaphore {
	if p, ok := s.pools[c]; ok {
		return p
	}
	return s.pools[CategoryDefault]
}

// fire starts sl's job in the background when its pool has room.
func (s *Scheduler) fire(ctx context.Context, sl *slot, now time.Time) {
	job := sl.job
	sem := s.pool(job.Category)
	if !sem.TryAcquire() {
		slog.Warn("Scheduler job skipped, concurrency limit reached", "job", job.Name, "category", job.Category)
		s.finish(ctx, sl, StatusSkippedConcurrency, now)
		return
	}

	s.mu.Lock()
	sl.running = true
	s.mu.Unlock()

	slog.Info("Scheduler running job", "job", job.Name)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer sem.Release()

		start := time.Now()
		status := StatusOK
		if err := job.Run(ctx); err != nil {
			status = StatusError
			slog.Error("Scheduler job failed", "job", job.Name, "error", err)
		} else {
			slog.Info("Scheduler job done", "job", job.Name, "took", time.Since(start).Round(time.Millisecond))
		}
		s.finish(context.WithoutCancel(ctx), sl, status, now)
	}()
}

// finish updates the slot, the run counter and the recorder.
func (s *Scheduler) finish(ctx context.Context, sl *slot, status string, at time.Time) {
	s.mu.Lock()
	if status != StatusSkippedConcurrency {
		sl.running = false
	}
	sl.lastStatus = status
	sl.lastRunAt = at
	s.mu.Unlock()

	jobRunsTotal.WithLabelValues(sl.job.Name, status).Inc()
	if s.recorder == nil {
		return
	}
	if err := s.recorder.UpsertScheduledJob(ctx, sl.job.Name, status, at); err != nil {
		slog.Warn("Scheduler could not record job run", "job", sl.job.Name, "error", err)
	}
}
