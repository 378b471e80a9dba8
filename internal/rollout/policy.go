package rollout

import "github.com/itellico/joi-sub010/internal/store"

// Policy holds the evaluation thresholds. Rates are fractions in [0,1];
// a delta is candidate rate minus baseline rate, so positive means worse.
type Policy struct {
	// MinSamples is the number of completed analyses each variant needs
	// before a rate comparison is trusted.
	MinSamples int `json:"minSamples"`
	// FailureScore overrides the observer's quality threshold as the score
	// below which an analysis counts as a failure. Zero means no override.
	FailureScore float64 `json:"failureScore"`

	RejectTolerance       float64 `json:"rejectTolerance"`
	RejectRollbackMargin  float64 `json:"rejectRollbackMargin"`
	FailureTolerance      float64 `json:"failureTolerance"`
	FailureRollbackMargin float64 `json:"failureRollbackMargin"`
	IssueTolerance        float64 `json:"issueTolerance"`
	IssueRollbackMargin   float64 `json:"issueRollbackMargin"`

	// RollbackOnCritical rolls the candidate back on any critical issue
	// attributed to it, regardless of sample size.
	RollbackOnCritical bool `json:"rollbackOnCritical"`
}

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() Policy {
	return Policy{
		MinSamples:            20,
		RejectTolerance:       0.02,
		RejectRollbackMargin:  0.10,
		FailureTolerance:      0.02,
		FailureRollbackMargin: 0.10,
		IssueTolerance:        0.02,
		IssueRollbackMargin:   0.10,
		RollbackOnCritical:    true,
	}
}

// Validate checks that margins are consistent.
func (p Policy) Validate() error {
	if p.MinSamples < 1 {
		return store.Invalidf("minSamples must be at least 1")
	}
	if p.FailureScore < 0 || p.FailureScore > 1 {
		return store.Invalidf("failureScore must be within [0,1]")
	}
	pairs := []struct {
		name              string
		tolerance, margin float64
	}{
		{"reject", p.RejectTolerance, p.RejectRollbackMargin},
		{"failure", p.FailureTolerance, p.FailureRollbackMargin},
		{"issue", p.IssueTolerance, p.IssueRollbackMargin},
	}
	for _, pr := range pairs {
		if pr.tolerance < 0 || pr.margin < pr.tolerance {
			return store.Invalidf("%s thresholds need 0 <= tolerance <= rollback margin", pr.name)
		}
	}
	return nil
}
