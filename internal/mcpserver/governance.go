package mcpserver

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/itellico/joi-sub010/internal/rollout"
)

// GovernanceSummaryTool handles the governance_summary MCP tool.
type GovernanceSummaryTool struct {
	engine *rollout.Engine
}

// NewGovernanceSummaryTool creates a GovernanceSummaryTool.
func NewGovernanceSummaryTool(e *rollout.Engine) *GovernanceSummaryTool {
	return &GovernanceSummaryTool{engine: e}
}

// Definition returns the MCP tool definition for governance_summary.
func (t *GovernanceSummaryTool) Definition() mcp.Tool {
	return mcp.NewTool("governance_summary",
		mcp.WithDescription("Show each agent's active soul version, canaries in flight, issue counts by status and recent rollout decisions."),
		mcp.WithNumber("days",
			mcp.Description("Quality window in days (default: 7)"),
		),
	)
}

// Handle processes the governance_summary tool call.
func (t *GovernanceSummaryTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sum, err := t.engine.Summary(ctx, intArg(req, "days", 7))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to build summary: %v", err)), nil
	}

	var b strings.Builder
	b.WriteString("## Governance summary\n\n")
	fmt.Fprintf(&b, "- **Active canaries**: %d\n", sum.ActiveRollouts)
	if sum.Quality != nil {
		fmt.Fprintf(&b, "- **Average score (%dd)**: %.2f over %d turns\n", sum.Quality.WindowDays, sum.Quality.AvgQualityScore, sum.Quality.TotalAnalyzed)
	}
	statuses := make([]string, 0, len(sum.IssuesByStatus))
	for status := range sum.IssuesByStatus {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		fmt.Fprintf(&b, "- **Issues %s**: %d\n", status, sum.IssuesByStatus[status])
	}

	if len(sum.Agents) > 0 {
		b.WriteString("\n### Agents\n\n")
		for _, a := range sum.Agents {
			active := "none"
			if a.ActiveVersion != nil {
				active = fmt.Sprintf("v%d", a.ActiveVersion.Version)
			}
			fmt.Fprintf(&b, "- %s: active %s of %d version(s)", a.AgentID, active, a.Versions)
			if a.Rollout != nil {
				fmt.Fprintf(&b, ", canary %s at %d%%", a.Rollout.ID, a.Rollout.TrafficPercent)
			}
			b.WriteString("\n")
		}
	}
	if len(sum.Recent) > 0 {
		b.WriteString("\n### Recent rollouts\n\n")
		for _, ro := range sum.Recent {
			fmt.Fprintf(&b, "- %s %s: %s", ro.AgentID, ro.ID, ro.Status)
			if ro.Reason != "" {
				fmt.Fprintf(&b, " (%s)", ro.Reason)
			}
			b.WriteString("\n")
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

// EvaluateRolloutsTool handles the evaluate_rollouts MCP tool.
type EvaluateRolloutsTool struct {
	engine *rollout.Engine
}

// NewEvaluateRolloutsTool creates an EvaluateRolloutsTool.
func NewEvaluateRolloutsTool(e *rollout.Engine) *EvaluateRolloutsTool {
	return &EvaluateRolloutsTool{engine: e}
}

// Definition returns the MCP tool definition for evaluate_rollouts.
func (t *EvaluateRolloutsTool) Definition() mcp.Tool {
	return mcp.NewTool("evaluate_rollouts",
		mcp.WithDescription("Evaluate canary rollouts against their baselines and apply the decision (promote, rollback or keep pending). Evaluates every active canary unless rollout_id is given."),
		mcp.WithString("rollout_id",
			mcp.Description("Evaluate only this rollout"),
		),
	)
}

// Handle processes the evaluate_rollouts tool call.
func (t *EvaluateRolloutsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if id := req.GetString("rollout_id", ""); id != "" {
		ev, err := t.engine.Evaluate(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("evaluation failed: %v", err)), nil
		}
		var b strings.Builder
		writeEvaluation(&b, ev)
		return mcp.NewToolResultText(b.String()), nil
	}

	res, err := t.engine.EvaluateAll(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("evaluation failed: %v", err)), nil
	}
	if res.Evaluated == 0 && len(res.Errors) == 0 {
		return mcp.NewToolResultText("No active canaries."), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Evaluated %d canaries: %d promoted, %d rolled back, %d pending.\n\n",
		res.Evaluated, res.Promoted, res.RolledBack, res.Pending)
	for _, ev := range res.Evaluations {
		writeEvaluation(&b, ev)
	}
	for _, msg := range res.Errors {
		fmt.Fprintf(&b, "error: %s\n", msg)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func writeEvaluation(b *strings.Builder, ev *rollout.Evaluation) {
	fmt.Fprintf(b, "- %s (%s): %s", ev.RolloutID, ev.AgentID, ev.Decision)
	if ev.Reason != "" {
		fmt.Fprintf(b, ", %s", ev.Reason)
	}
	b.WriteString("\n")
	for _, s := range ev.Signals {
		fmt.Fprintf(b, "    %s: baseline %.3f, candidate %.3f (%s)\n", s.Name, s.Baseline, s.Candidate, s.Verdict)
	}
}
