package store

// CanTransitionAnalysis reports whether an analysis may move from one status
// to another. Completed and error rows are final.
func CanTransitionAnalysis(from, to string) bool {
	switch from {
	case AnalysisPending:
		return to == AnalysisAnalyzing || to == AnalysisError
	case AnalysisAnalyzing:
		return to == AnalysisCompleted || to == AnalysisError
	case AnalysisCompleted, AnalysisError:
		return false
	default:
		return false
	}
}

// CanTransitionRollout reports whether a rollout may move from one status to
// another. Only canary_active has successors.
func CanTransitionRollout(from, to string) bool {
	switch from {
	case RolloutCanaryActive:
		return to == RolloutPromoted || to == RolloutRolledBack || to == RolloutCancelled
	default:
		return false
	}
}

// analysisPredecessors lists the statuses an analysis may hold just before to.
func analysisPredecessors(to string) []string {
	var out []string
	for _, from := range []string{AnalysisPending, AnalysisAnalyzing, AnalysisCompleted, AnalysisError} {
		if CanTransitionAnalysis(from, to) {
			out = append(out, from)
		}
	}
	return out
}
