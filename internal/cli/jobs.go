package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/itellico/joi-sub010/internal/scheduler"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Show scheduled jobs and their last recorded runs",
	RunE:  runJobs,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
}

type jobRow struct {
	Name       string     `json:"name"`
	Schedule   string     `json:"schedule,omitempty"`
	NextRunAt  *time.Time `json:"nextRunAt,omitempty"`
	LastStatus string     `json:"lastStatus,omitempty"`
	LastRunAt  *time.Time `json:"lastRunAt,omitempty"`
	RunCount   int        `json:"runCount"`
}

func runJobs(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	history, err := a.store.ListScheduledJobs(cmd.Context())
	if err != nil {
		return err
	}
	cron, err := scheduler.ParseCron(a.cfg.Rollout.EvaluateCron)
	if err != nil {
		return fmt.Errorf("rollout.evaluateCron: %w", err)
	}

	eval := jobRow{Name: scheduler.RolloutEvaluateJobName, Schedule: cron.String()}
	if a.cfg.Scheduler.Enabled {
		if next := cron.Next(time.Now()); !next.IsZero() {
			eval.NextRunAt = &next
		}
	}
	rows := []jobRow{eval}
	for _, h := range history {
		row := &rows[0]
		if h.JobName != eval.Name {
			rows = append(rows, jobRow{Name: h.JobName})
			row = &rows[len(rows)-1]
		}
		row.LastStatus, row.LastRunAt, row.RunCount = h.LastStatus, h.LastRunAt, h.RunCount
	}

	if flagJSON {
		return printJSON(cmd.OutOrStdout(), rows)
	}
	if !a.cfg.Scheduler.Enabled {
		fmt.Fprintln(cmd.OutOrStdout(), "Scheduler is disabled.")
	}
	tw := newTable(cmd.OutOrStdout())
	fmt.Fprintln(tw, "JOB\tSCHEDULE\tNEXT\tLAST\tSTATUS\tRUNS")
	for _, r := range rows {
		next, last := "-", "-"
		if r.NextRunAt != nil {
			next = fmtTime(*r.NextRunAt)
		}
		if r.LastRunAt != nil {
			last = fmtTime(*r.LastRunAt)
		}
		status := "-"
		if r.LastStatus != "" {
			status = statusColor(r.LastStatus)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n", r.Name, r.Schedule, next, last, status, r.RunCount)
	}
	return tw.Flush()
}
