package rollout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itellico/joi-sub010/internal/store"
)

func TestDecide(t *testing.T) {
	p := DefaultPolicy()
	healthy := store.VariantMetrics{Samples: 40, Failures: 4, Reviews: 20, Rejects: 2, HighIssues: 1}

	cases := []struct {
		name      string
		baseline  store.VariantMetrics
		candidate store.VariantMetrics
		want      Decision
	}{
		{
			name:      "better on all signals",
			baseline:  healthy,
			candidate: store.VariantMetrics{Samples: 40, Failures: 2, Reviews: 20, Rejects: 1},
			want:      DecisionPromote,
		},
		{
			name:      "equal within tolerance",
			baseline:  healthy,
			candidate: healthy,
			want:      DecisionPromote,
		},
		{
			name:      "failure rate regressed",
			baseline:  healthy,
			candidate: store.VariantMetrics{Samples: 40, Failures: 12, Reviews: 20, Rejects: 2, HighIssues: 1},
			want:      DecisionRollback,
		},
		{
			name:      "reject rate regressed",
			baseline:  healthy,
			candidate: store.VariantMetrics{Samples: 40, Failures: 4, Reviews: 20, Rejects: 8, HighIssues: 1},
			want:      DecisionRollback,
		},
		{
			name:      "issue rate regressed",
			baseline:  healthy,
			candidate: store.VariantMetrics{Samples: 40, Failures: 4, Reviews: 20, Rejects: 2, HighIssues: 8},
			want:      DecisionRollback,
		},
		{
			name:      "critical incident with few samples",
			baseline:  healthy,
			candidate: store.VariantMetrics{Samples: 2, CriticalIssues: 1},
			want:      DecisionRollback,
		},
		{
			name:      "insufficient candidate samples",
			baseline:  healthy,
			candidate: store.VariantMetrics{Samples: 5, Failures: 5},
			want:      DecisionPending,
		},
		{
			name:      "insufficient baseline samples",
			baseline:  store.VariantMetrics{Samples: 3},
			candidate: healthy,
			want:      DecisionPending,
		},
		{
			name:      "slightly worse stays pending",
			baseline:  healthy,
			candidate: store.VariantMetrics{Samples: 40, Failures: 6, Reviews: 20, Rejects: 2, HighIssues: 1},
			want:      DecisionPending,
		},
		{
			name:      "no reviews on either side",
			baseline:  store.VariantMetrics{Samples: 30, Failures: 3},
			candidate: store.VariantMetrics{Samples: 30, Failures: 3},
			want:      DecisionPromote,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, reason, signals := Decide(p, tc.baseline, tc.candidate)
			assert.Equal(t, tc.want, got, reason)
			assert.NotEmpty(t, reason)
			assert.Len(t, signals, 3)
		})
	}
}

func TestDecideZeroMarginRollsBackAnyRegression(t *testing.T) {
	p := DefaultPolicy()
	p.RejectTolerance, p.RejectRollbackMargin = 0, 0
	p.FailureTolerance, p.FailureRollbackMargin = 0, 0
	p.IssueTolerance, p.IssueRollbackMargin = 0, 0
	require.NoError(t, p.Validate())
	healthy := store.VariantMetrics{Samples: 40, Failures: 4, Reviews: 20, Rejects: 2, HighIssues: 1}

	got, reason, _ := Decide(p, healthy, store.VariantMetrics{Samples: 40, Failures: 6, Reviews: 20, Rejects: 2, HighIssues: 1})
	assert.Equal(t, DecisionRollback, got, reason)

	got, reason, _ = Decide(p, healthy, healthy)
	assert.Equal(t, DecisionPromote, got, reason)
}

func TestDecideSignals(t *testing.T) {
	_, _, signals := Decide(DefaultPolicy(),
		store.VariantMetrics{Samples: 40, Failures: 4},
		store.VariantMetrics{Samples: 40, Failures: 10, Reviews: 5, Rejects: 1})

	require.Len(t, signals, 3)
	assert.Equal(t, signalRejectRate, signals[0].Name)
	assert.Equal(t, SignalNoData, signals[0].Verdict)
	assert.Equal(t, signalFailureRate, signals[1].Name)
	assert.InDelta(t, 0.15, signals[1].Delta, 1e-9)
	assert.Equal(t, SignalRegressed, signals[1].Verdict)
	assert.Equal(t, SignalWithin, signals[2].Verdict)
}

func TestCriticalRollbackCanBeDisabled(t *testing.T) {
	p := DefaultPolicy()
	p.RollbackOnCritical = false
	got, _, _ := Decide(p, store.VariantMetrics{Samples: 40}, store.VariantMetrics{Samples: 2, CriticalIssues: 1})
	assert.Equal(t, DecisionPending, got)
}

func TestPolicyValidate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())

	p := DefaultPolicy()
	p.MinSamples = 0
	assert.Error(t, p.Validate())

	p = DefaultPolicy()
	p.FailureRollbackMargin = 0.01
	assert.Error(t, p.Validate())

	p = DefaultPolicy()
	p.FailureScore = 1.5
	assert.Error(t, p.Validate())
}
