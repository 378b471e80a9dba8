package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/itellico/joi-sub010/internal/store"
)

// QualityStatsTool handles the quality_stats MCP tool.
type QualityStatsTool struct {
	store *store.Store
}

// NewQualityStatsTool creates a QualityStatsTool.
func NewQualityStatsTool(st *store.Store) *QualityStatsTool {
	return &QualityStatsTool{store: st}
}

// Definition returns the MCP tool definition for quality_stats.
func (t *QualityStatsTool) Definition() mcp.Tool {
	return mcp.NewTool("quality_stats",
		mcp.WithDescription("Summarize judge-scored chat quality over a trailing window: averages per agent and per day, low-quality counts, pipeline errors and issues filed today."),
		mcp.WithNumber("days",
			mcp.Description("Window size in days (default: 7)"),
		),
	)
}

// Handle processes the quality_stats tool call.
func (t *QualityStatsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	days := intArg(req, "days", 7)
	if days <= 0 {
		return mcp.NewToolResultError("'days' must be positive"), nil
	}
	stats, err := t.store.QualityStats(ctx, days)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load stats: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Chat quality, last %d day(s)\n\n", stats.WindowDays)
	fmt.Fprintf(&b, "- **Analyzed**: %d\n", stats.TotalAnalyzed)
	fmt.Fprintf(&b, "- **Average score**: %.2f\n", stats.AvgQualityScore)
	fmt.Fprintf(&b, "- **Errors**: %d\n", stats.ErrorCount)
	fmt.Fprintf(&b, "- **Pending**: %d\n", stats.PendingCount)
	fmt.Fprintf(&b, "- **Issues today**: %d\n", stats.IssuesToday)

	if len(stats.ByAgent) > 0 {
		b.WriteString("\n### By agent\n\n")
		for _, a := range stats.ByAgent {
			fmt.Fprintf(&b, "- %s: %d turns, avg %.2f\n", a.AgentID, a.Count, a.AvgScore)
		}
	}
	if len(stats.ByDay) > 0 {
		b.WriteString("\n### By day\n\n")
		for _, d := range stats.ByDay {
			fmt.Fprintf(&b, "- %s: %d turns, avg %.2f, %d low quality\n", d.Day, d.Count, d.AvgScore, d.LowQualityCount)
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

// ListAnalysesTool handles the list_analyses MCP tool.
type ListAnalysesTool struct {
	store *store.Store
}

// NewListAnalysesTool creates a ListAnalysesTool.
func NewListAnalysesTool(st *store.Store) *ListAnalysesTool {
	return &ListAnalysesTool{store: st}
}

// Definition returns the MCP tool definition for list_analyses.
func (t *ListAnalysesTool) Definition() mcp.Tool {
	return mcp.NewTool("list_analyses",
		mcp.WithDescription("List recent chat analyses, newest first, optionally filtered by agent, status or score range."),
		mcp.WithString("agent",
			mcp.Description("Filter by agent id"),
		),
		mcp.WithString("status",
			mcp.Description("Filter by status: pending, analyzing, completed, error"),
		),
		mcp.WithNumber("min_score",
			mcp.Description("Minimum quality score (0-1)"),
		),
		mcp.WithNumber("max_score",
			mcp.Description("Maximum quality score (0-1)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max results (default: 20, max: 100)"),
		),
	)
}

// Handle processes the list_analyses tool call.
func (t *ListAnalysesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := intArg(req, "limit", 20)
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	items, err := t.store.ListAnalyses(ctx, store.AnalysisFilter{
		AgentID:  req.GetString("agent", ""),
		Status:   req.GetString("status", ""),
		MinScore: floatArg(req, "min_score"),
		MaxScore: floatArg(req, "max_score"),
		Limit:    limit,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list analyses: %v", err)), nil
	}
	if len(items) == 0 {
		return mcp.NewToolResultText("No analyses match."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d analyses:\n\n", len(items))
	for i, a := range items {
		fmt.Fprintf(&b, "[%d] %s (%s) agent=%s score=%s at %s\n", i+1, a.ID, a.Status, a.AgentID, score(a.QualityScore), stamp(a.CreatedAt))
		if a.Reasoning != "" {
			fmt.Fprintf(&b, "    %s\n", a.Reasoning)
		}
		if a.ErrorMessage != "" {
			fmt.Fprintf(&b, "    error: %s\n", a.ErrorMessage)
		}
		for _, issue := range a.IssuesDetected {
			fmt.Fprintf(&b, "    - [%s] %s: %s\n", issue.Severity, issue.Type, issue.Description)
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}
