package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "joi_scheduler_job_runs_total",
		Help: "Scheduler job runs, by job and status",
	}, []string{"job", "status"})

	jobsRunning = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "joi_scheduler_jobs_running",
		Help: "Scheduler jobs currently running, by category",
	}, []string{"category"})
)
