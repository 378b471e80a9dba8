package observer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/itellico/joi-sub010/internal/bus"
	"github.com/itellico/joi-sub010/internal/store"
)

const (
	issueCategory  = "quality"
	titleMaxLength = 120
)

// IssueSummary is the payload of issue_created events.
type IssueSummary struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Severity string `json:"severity"`
	Source   string `json:"source"`
}

// SeverityForScore maps a quality score to a severity tier. Each band
// includes its lower bound: [0,0.3) critical, [0.3,0.5) high,
// [0.5,0.7) medium, [0.7,1] low.
func SeverityForScore(score float64) string {
	switch {
	case score < 0.3:
		return store.SeverityCritical
	case score < 0.5:
		return store.SeverityHigh
	case score < 0.7:
		return store.SeverityMedium
	default:
		return store.SeverityLow
	}
}

// CreateIssueForAnalysis files a live-observer issue for a completed
// analysis. Rows that are not completed are rejected.
func (o *Observer) CreateIssueForAnalysis(ctx context.Context, a *store.ChatAnalysis) (*store.Issue, error) {
	if a.Status != store.AnalysisCompleted || a.QualityScore == nil {
		return nil, fmt.Errorf("analysis %s is %s, only completed analyses file issues", a.ID, a.Status)
	}
	score := *a.QualityScore

	tags := []string{store.TagLiveObserver}
	if a.AgentID != "" {
		tags = append(tags, store.AgentTag(a.AgentID))
	}
	if a.SoulVersionID != "" {
		tags = append(tags, store.SoulTag(a.SoulVersionID))
	}

	issue, err := o.store.CreateIssue(ctx, &store.Issue{
		Title:       issueTitle(a.IssuesDetected),
		Description: issueDescription(a),
		Severity:    SeverityForScore(score),
		Category:    issueCategory,
		Source:      store.SourceLiveObserver,
		AgentID:     a.AgentID,
		Tags:        tags,
		Evidence: []store.Evidence{{
			AnalysisID: a.ID,
			Scores: store.EvidenceScores{
				Correctness:     deref(a.Correctness),
				ToolAccuracy:    deref(a.ToolAccuracy),
				ResponseQuality: deref(a.ResponseQuality),
				QualityScore:    score,
			},
			Issues: a.IssuesDetected,
		}},
	})
	if err != nil {
		return nil, err
	}
	issuesCreatedTotal.WithLabelValues(issue.Severity).Inc()
	slog.Info("Observer created issue", "issue", issue.ID, "analysis", a.ID, "severity", issue.Severity)
	o.publish(&bus.Event{
		Type: bus.EventIssueCreated,
		Key:  issue.ID,
		Data: IssueSummary{ID: issue.ID, Title: issue.Title, Severity: issue.Severity, Source: issue.Source},
	})
	return issue, nil
}

func issueTitle(issues []store.DetectedIssue) string {
	if len(issues) == 0 {
		return "Low quality score"
	}
	first := issues[0]
	title := first.Type
	if d := strings.TrimSpace(first.Description); d != "" {
		title += ": " + d
	}
	r := []rune(title)
	if len(r) > titleMaxLength {
		title = string(r[:titleMaxLength-3]) + "..."
	}
	return title
}

func issueDescription(a *store.ChatAnalysis) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Quality score %.2f (correctness %.2f, tool accuracy %.2f, response quality %.2f)",
		deref(a.QualityScore), deref(a.Correctness), deref(a.ToolAccuracy), deref(a.ResponseQuality))
	if a.AgentID != "" {
		fmt.Fprintf(&sb, " for agent %s", a.AgentID)
	}
	sb.WriteString(".\n")
	if r := strings.TrimSpace(a.Reasoning); r != "" {
		sb.WriteString("\nReasoning: ")
		sb.WriteString(r)
		sb.WriteString("\n")
	}
	if len(a.IssuesDetected) > 0 {
		sb.WriteString("\nDetected issues:\n")
		for _, it := range a.IssuesDetected {
			fmt.Fprintf(&sb, "- [%s] %s: %s\n", it.Severity, it.Type, it.Description)
		}
	}
	fmt.Fprintf(&sb, "\nAnalysis: %s\n", a.ID)
	return sb.String()
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
