package observer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	turnsSubmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "joi_observer_turns_total",
		Help: "Turns submitted to the quality observer, by outcome (queued or skip reason)",
	}, []string{"outcome"})

	analysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "joi_observer_analyses_total",
		Help: "Analyses that reached a terminal status",
	}, []string{"status"})

	judgeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "joi_observer_judge_latency_seconds",
		Help:    "Latency of judge calls, successful or not",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "joi_observer_queue_depth",
		Help: "Analyses waiting for a worker",
	})

	queueFullTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "joi_observer_queue_full_total",
		Help: "Analyses failed because the worker queue was full",
	})

	issuesCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "joi_observer_issues_created_total",
		Help: "Issues filed by the quality observer, by severity",
	}, []string{"severity"})
)
