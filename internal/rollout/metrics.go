package rollout

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	assignmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "joi_rollout_assignments_total",
		Help: "Conversations assigned to a soul variant",
	}, []string{"variant"})

	evaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "joi_rollout_evaluations_total",
		Help: "Rollout evaluations, by decision",
	}, []string{"decision"})

	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "joi_rollout_decisions_total",
		Help: "Applied rollout transitions, by resulting status and trigger",
	}, []string{"status", "trigger"})

	activeCanaries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "joi_rollout_active_canaries",
		Help: "Rollouts in canary_active seen by the last evaluate-all pass",
	})
)
