package store

import (
	"context"
	"fmt"
	"time"
)

// LowQualityCutoff is the score below which a completed analysis counts as
// low quality in the per-day rollup.
const LowQualityCutoff = 0.5

// AgentQuality is the per-agent rollup.
type AgentQuality struct {
	AgentID   string  `json:"agentId"`
	AgentName string  `json:"agentName,omitempty"`
	Count     int     `json:"count"`
	AvgScore  float64 `json:"avgScore"`
}

// DayQuality is the per-day rollup. Day is YYYY-MM-DD in UTC.
type DayQuality struct {
	Day             string  `json:"day"`
	Count           int     `json:"count"`
	AvgScore        float64 `json:"avgScore"`
	LowQualityCount int     `json:"lowQualityCount"`
}

// QualityStats summarizes completed analyses over a trailing window.
type QualityStats struct {
	WindowDays      int            `json:"windowDays"`
	Since           time.Time      `json:"since"`
	TotalAnalyzed   int            `json:"totalAnalyzed"`
	AvgQualityScore float64        `json:"avgQualityScore"`
	ErrorCount      int            `json:"errorCount"`
	PendingCount    int            `json:"pendingCount"`
	ByAgent         []AgentQuality `json:"byAgent"`
	ByDay           []DayQuality   `json:"byDay"`
	IssuesToday     int            `json:"issuesToday"`
}

// QualityStats aggregates the trailing days-day window. Quality figures use
// completed rows only; error and in-flight rows are counted separately.
func (s *Store) QualityStats(ctx context.Context, days int) (*QualityStats, error) {
	if days <= 0 {
		days = 7
	}
	now := s.Now()
	since := now.Add(-time.Duration(days) * 24 * time.Hour)
	sinceStr := formatTime(since)
	stats := &QualityStats{
		WindowDays: days,
		Since:      since,
		ByAgent:    []AgentQuality{},
		ByDay:      []DayQuality{},
	}

	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(AVG(quality_score), 0)
		FROM chat_analyses WHERE status = ? AND created_at >= ?`, AnalysisCompleted, sinceStr).
		Scan(&stats.TotalAnalyzed, &stats.AvgQualityScore)
	if err != nil {
		return nil, fmt.Errorf("stats totals: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `SELECT
		COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status IN (?, ?) THEN 1 ELSE 0 END), 0)
		FROM chat_analyses WHERE created_at >= ?`,
		AnalysisError, AnalysisPending, AnalysisAnalyzing, sinceStr).
		Scan(&stats.ErrorCount, &stats.PendingCount)
	if err != nil {
		return nil, fmt.Errorf("stats pipeline health: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT agent_id, MAX(agent_name), COUNT(*), COALESCE(AVG(quality_score), 0)
		FROM chat_analyses WHERE status = ? AND created_at >= ?
		GROUP BY agent_id ORDER BY COUNT(*) DESC, agent_id`, AnalysisCompleted, sinceStr)
	if err != nil {
		return nil, fmt.Errorf("stats by agent: %w", err)
	}
	for rows.Next() {
		var a AgentQuality
		if err := rows.Scan(&a.AgentID, &a.AgentName, &a.Count, &a.AvgScore); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan agent stats: %w", err)
		}
		stats.ByAgent = append(stats.ByAgent, a)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT substr(created_at, 1, 10) AS day, COUNT(*),
		COALESCE(AVG(quality_score), 0),
		COALESCE(SUM(CASE WHEN quality_score < ? THEN 1 ELSE 0 END), 0)
		FROM chat_analyses WHERE status = ? AND created_at >= ?
		GROUP BY day ORDER BY day`, LowQualityCutoff, AnalysisCompleted, sinceStr)
	if err != nil {
		return nil, fmt.Errorf("stats by day: %w", err)
	}
	for rows.Next() {
		var d DayQuality
		if err := rows.Scan(&d.Day, &d.Count, &d.AvgScore, &d.LowQualityCount); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan day stats: %w", err)
		}
		stats.ByDay = append(stats.ByDay, d)
	}
	rows.Close()

	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	stats.IssuesToday, err = s.CountIssuesByTag(ctx, TagLiveObserver, startOfDay)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// VariantQuery selects the analyses, reviews and issues attributed to one
// soul version of one agent within [Since, Until).
type VariantQuery struct {
	AgentID       string
	SoulVersionID string
	Since         time.Time
	Until         time.Time
	Threshold     float64
}

// VariantMetrics are the raw counts behind rollout evaluation signals.
type VariantMetrics struct {
	Samples        int `json:"samples"`
	Failures       int `json:"failures"`
	Reviews        int `json:"reviews"`
	Rejects        int `json:"rejects"`
	HighIssues     int `json:"highIssues"`
	CriticalIssues int `json:"criticalIssues"`
}

// VariantMetrics counts completed analyses (and those below the threshold),
// reviews (and rejects) and high/critical issues for one variant.
func (s *Store) VariantMetrics(ctx context.Context, q VariantQuery) (*VariantMetrics, error) {
	since := formatTime(q.Since)
	until := q.Until
	if until.IsZero() {
		until = s.Now().Add(time.Second)
	}
	untilStr := formatTime(until)
	m := &VariantMetrics{}

	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN quality_score < ? THEN 1 ELSE 0 END), 0)
		FROM chat_analyses
		WHERE agent_id = ? AND soul_version_id = ? AND status = ?
		  AND created_at >= ? AND created_at < ?`,
		q.Threshold, q.AgentID, q.SoulVersionID, AnalysisCompleted, since, untilStr).
		Scan(&m.Samples, &m.Failures)
	if err != nil {
		return nil, fmt.Errorf("variant analyses: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN verdict = ? THEN 1 ELSE 0 END), 0)
		FROM turn_reviews
		WHERE agent_id = ? AND soul_version_id = ? AND created_at >= ? AND created_at < ?`,
		VerdictReject, q.AgentID, q.SoulVersionID, since, untilStr).
		Scan(&m.Reviews, &m.Rejects)
	if err != nil {
		return nil, fmt.Errorf("variant reviews: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `SELECT
		COALESCE(SUM(CASE WHEN i.severity = ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN i.severity = ? THEN 1 ELSE 0 END), 0)
		FROM issues i
		WHERE i.created_at >= ? AND i.created_at < ?
		  AND EXISTS (SELECT 1 FROM issue_tags t WHERE t.issue_id = i.id AND t.tag = ?)
		  AND EXISTS (SELECT 1 FROM issue_tags t WHERE t.issue_id = i.id AND t.tag = ?)`,
		SeverityHigh, SeverityCritical, since, untilStr, AgentTag(q.AgentID), SoulTag(q.SoulVersionID)).
		Scan(&m.HighIssues, &m.CriticalIssues)
	if err != nil {
		return nil, fmt.Errorf("variant issues: %w", err)
	}
	return m, nil
}
