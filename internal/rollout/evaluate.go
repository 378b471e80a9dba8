package rollout

import (
	"fmt"
	"time"

	"github.com/itellico/joi-sub010/internal/store"
)

// Decision is the outcome of one evaluation.
type Decision string

const (
	DecisionPromote  Decision = "promote"
	DecisionRollback Decision = "rollback"
	DecisionPending  Decision = "pending"
)

// Signal verdicts.
const (
	SignalNoData      = "no_data"
	SignalWithin      = "within_tolerance"
	SignalWorse       = "worse"
	SignalRegressed   = "regressed"
	signalRejectRate  = "reject_rate"
	signalFailureRate = "failure_rate"
	signalIssueRate   = "issue_rate"
)

// Signal compares one rate between the variants.
type Signal struct {
	Name           string  `json:"name"`
	Baseline       float64 `json:"baseline"`
	Candidate      float64 `json:"candidate"`
	Delta          float64 `json:"delta"`
	Tolerance      float64 `json:"tolerance"`
	RollbackMargin float64 `json:"rollbackMargin"`
	Verdict        string  `json:"verdict"`
}

// Evaluation is the record stored with every decision.
type Evaluation struct {
	RolloutID   string               `json:"rolloutId"`
	AgentID     string               `json:"agentId"`
	Decision    Decision             `json:"decision"`
	Reason      string               `json:"reason"`
	Baseline    store.VariantMetrics `json:"baseline"`
	Candidate   store.VariantMetrics `json:"candidate"`
	Signals     []Signal             `json:"signals"`
	MinSamples  int                  `json:"minSamples"`
	Threshold   float64              `json:"failureThreshold"`
	WindowStart time.Time            `json:"windowStart"`
	WindowEnd   time.Time            `json:"windowEnd"`
	Applied     bool                 `json:"applied"`
	Status      string               `json:"status"`
}

// Decide applies p to the two variant windows. The checks run in order:
// a critical incident on the candidate rolls back; too few samples on
// either side stays pending; any signal regressed beyond its rollback
// margin rolls back; all signals within tolerance promote; anything else
// stays pending.
func Decide(p Policy, baseline, candidate store.VariantMetrics) (Decision, string, []Signal) {
	signals := []Signal{
		compare(signalRejectRate, baseline.Reviews, baseline.Rejects, candidate.Reviews, candidate.Rejects,
			p.RejectTolerance, p.RejectRollbackMargin),
		compare(signalFailureRate, baseline.Samples, baseline.Failures, candidate.Samples, candidate.Failures,
			p.FailureTolerance, p.FailureRollbackMargin),
		compare(signalIssueRate, baseline.Samples, baseline.HighIssues+baseline.CriticalIssues,
			candidate.Samples, candidate.HighIssues+candidate.CriticalIssues,
			p.IssueTolerance, p.IssueRollbackMargin),
	}

	if p.RollbackOnCritical && candidate.CriticalIssues > 0 {
		return DecisionRollback, fmt.Sprintf("candidate has %d critical issue(s)", candidate.CriticalIssues), signals
	}
	if baseline.Samples < p.MinSamples || candidate.Samples < p.MinSamples {
		return DecisionPending, fmt.Sprintf("insufficient samples: baseline %d, candidate %d, need %d",
			baseline.Samples, candidate.Samples, p.MinSamples), signals
	}
	for _, s := range signals {
		if s.Verdict == SignalRegressed {
			return DecisionRollback, fmt.Sprintf("%s regressed by %.3f (margin %.3f)", s.Name, s.Delta, s.RollbackMargin), signals
		}
	}
	for _, s := range signals {
		if s.Verdict == SignalWorse {
			return DecisionPending, fmt.Sprintf("%s worse by %.3f, beyond tolerance %.3f", s.Name, s.Delta, s.Tolerance), signals
		}
	}
	return DecisionPromote, "candidate within tolerance on all signals", signals
}

// compare builds one signal. A signal with no observations on either side
// carries no evidence and counts as within tolerance.
func compare(name string, baseTotal, baseHits, candTotal, candHits int, tolerance, margin float64) Signal {
	s := Signal{Name: name, Tolerance: tolerance, RollbackMargin: margin}
	if baseTotal == 0 || candTotal == 0 {
		s.Verdict = SignalNoData
		return s
	}
	s.Baseline = float64(baseHits) / float64(baseTotal)
	s.Candidate = float64(candHits) / float64(candTotal)
	s.Delta = s.Candidate - s.Baseline
	switch {
	case s.Delta > margin:
		s.Verdict = SignalRegressed
	case s.Delta > tolerance:
		s.Verdict = SignalWorse
	default:
		s.Verdict = SignalWithin
	}
	return s
}
