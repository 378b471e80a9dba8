package scheduler

import (
	"context"
	"fmt"

	"github.com/itellico/joi-sub010/internal/rollout"
)

// RolloutEvaluateJobName is the weekly rollout evaluation job.
const RolloutEvaluateJobName = "rollout-evaluate"

// DefaultRolloutEvaluateCron runs evaluation Mondays at 06:00.
const DefaultRolloutEvaluateCron = "0 6 * * 1"

// RolloutEvaluator evaluates every open canary.
type RolloutEvaluator interface {
	EvaluateAll(ctx context.Context) (*rollout.AllResult, error)
}

// NewRolloutEvaluateJob builds the rollout-evaluate job for expr. Errors
// from individual rollouts fail the run.
func NewRolloutEvaluateJob(expr string, e RolloutEvaluator) (*Job, error) {
	if expr == "" {
		expr = DefaultRolloutEvaluateCron
	}
	cron, err := ParseCron(expr)
	if err != nil {
		return nil, fmt.Errorf("rollout evaluate schedule: %w", err)
	}
	return &Job{
		Name:     RolloutEvaluateJobName,
		Cron:     cron,
		Category: CategoryEvaluation,
		Run: func(ctx context.Context) error {
			res, err := e.EvaluateAll(ctx)
			if err != nil {
				return err
			}
			if len(res.Errors) > 0 {
				return fmt.Errorf("%d rollout evaluation(s) failed: %s", len(res.Errors), res.Errors[0])
			}
			return nil
		},
	}, nil
}
