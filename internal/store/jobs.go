package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpsertScheduledJob inserts or updates a scheduled job run record.
func (s *Store) UpsertScheduledJob(ctx context.Context, jobName, status string, runAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO scheduled_jobs (job_name, last_status, last_run_at, run_count, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(job_name) DO UPDATE SET
			last_status = excluded.last_status,
			last_run_at = excluded.last_run_at,
			run_count = scheduled_jobs.run_count + 1,
			updated_at = excluded.updated_at`,
		jobName, status, formatTime(runAt), s.stamp())
	if err != nil {
		return fmt.Errorf("upsert scheduled job %s: %w", jobName, err)
	}
	return nil
}

// ListScheduledJobs returns all scheduled job records.
func (s *Store) ListScheduledJobs(ctx context.Context) ([]ScheduledJobRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT job_name, last_status, last_run_at, run_count, updated_at
		FROM scheduled_jobs ORDER BY job_name`)
	if err != nil {
		return nil, fmt.Errorf("list scheduled jobs: %w", err)
	}
	defer rows.Close()
	var out []ScheduledJobRecord
	for rows.Next() {
		var r ScheduledJobRecord
		var lastRun sql.NullString
		var updatedAt string
		if err := rows.Scan(&r.JobName, &r.LastStatus, &lastRun, &r.RunCount, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan scheduled job: %w", err)
		}
		r.LastRunAt = parseNullTime(lastRun)
		r.UpdatedAt = parseTime(updatedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}
