package observer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/itellico/joi-sub010/internal/bus"
	"github.com/itellico/joi-sub010/internal/judge"
	"github.com/itellico/joi-sub010/internal/store"
)

// analyze runs one queued job to a terminal status. Failures are recorded on
// the row and never retried. Only the judge call observes ctx cancellation;
// store writes always run.
func (o *Observer) analyze(ctx context.Context, j job) {
	storeCtx := context.WithoutCancel(ctx)
	if err := o.store.MarkAnalyzing(storeCtx, j.analysisID); err != nil {
		slog.Warn("Observer could not start analysis", "analysis", j.analysisID, "error", err)
		return
	}

	start := time.Now()
	res, err := o.judge.Evaluate(ctx, j.input)
	elapsed := time.Since(start)
	judgeLatency.Observe(elapsed.Seconds())

	if err != nil {
		o.fail(ctx, j.analysisID, err, elapsed)
		return
	}

	v := res.Verdict
	score := v.QualityScore()
	err = o.store.CompleteAnalysis(storeCtx, j.analysisID, store.AnalysisResult{
		Correctness:     v.Correctness,
		ToolAccuracy:    v.ToolAccuracy,
		ResponseQuality: v.ResponseQuality,
		QualityScore:    score,
		Reasoning:       v.Reasoning,
		Issues:          v.Issues,
		SkillsUsed:      v.SkillsUsed,
		SkillsExpected:  v.SkillsExpected,
		RawOutput:       res.RawOutput,
		LatencyMs:       elapsed.Milliseconds(),
	})
	if err != nil {
		slog.Error("Observer failed to store verdict", "analysis", j.analysisID, "error", err)
		return
	}
	analysesTotal.WithLabelValues(store.AnalysisCompleted).Inc()
	slog.Info("Observer analysis completed", "analysis", j.analysisID, "agent", j.input.AgentID,
		"score", score, "issues", len(v.Issues), "latency", elapsed.Truncate(time.Millisecond))

	analysis := o.publishAnalyzed(storeCtx, j.analysisID)
	if analysis == nil || score >= j.config.QualityThreshold {
		return
	}
	if _, err := o.CreateIssueForAnalysis(storeCtx, analysis); err != nil {
		slog.Error("Observer failed to create issue", "analysis", j.analysisID, "error", err)
	}
}

func (o *Observer) fail(ctx context.Context, analysisID string, cause error, elapsed time.Duration) {
	raw := ""
	var malformed *judge.MalformedOutputError
	if errors.As(cause, &malformed) {
		raw = malformed.Raw
	}
	storeCtx := context.WithoutCancel(ctx)
	if err := o.store.FailAnalysis(storeCtx, analysisID, cause.Error(), raw, elapsed.Milliseconds()); err != nil {
		slog.Error("Observer failed to mark analysis", "analysis", analysisID, "error", err)
		return
	}
	analysesTotal.WithLabelValues(store.AnalysisError).Inc()
	slog.Warn("Observer analysis failed", "analysis", analysisID, "error", cause)
	o.publishAnalyzed(storeCtx, analysisID)
}

// publishAnalyzed emits chat_analyzed with the full row and returns it.
func (o *Observer) publishAnalyzed(ctx context.Context, analysisID string) *store.ChatAnalysis {
	analysis, err := o.store.GetAnalysis(ctx, analysisID)
	if err != nil {
		slog.Warn("Observer could not reload analysis", "analysis", analysisID, "error", err)
		return nil
	}
	o.publish(&bus.Event{Type: bus.EventChatAnalyzed, Key: analysis.ID, Data: analysis})
	return analysis
}
