package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const analysisColumns = `id, conversation_id, message_id, agent_id, agent_name, user_message,
	assistant_content, tool_calls, tool_results, model, provider, latency_ms, cost_usd,
	execution_mode, soul_version_id, variant, correctness, tool_accuracy, response_quality,
	quality_score, reasoning, issues_detected, skills_used, skills_expected, status,
	analysis_latency_ms, error_message, judge_raw_output, created_at, updated_at, completed_at`

// AnalysisFilter narrows ListAnalyses. Zero values mean "no constraint".
type AnalysisFilter struct {
	AgentID  string
	Status   string
	MinScore *float64
	MaxScore *float64
	Since    time.Time
	Until    time.Time
	Limit    int
	Offset   int
}

// InsertAnalysis stores a new pending analysis. A second analysis for the
// same message yields ErrConflict.
func (s *Store) InsertAnalysis(ctx context.Context, a *ChatAnalysis) (*ChatAnalysis, error) {
	if a == nil {
		return nil, Invalidf("analysis is required")
	}
	if strings.TrimSpace(a.ConversationID) == "" || strings.TrimSpace(a.MessageID) == "" {
		return nil, Invalidf("conversation id and message id are required")
	}
	out := *a
	if out.ID == "" {
		out.ID = newID()
	}
	now := s.Now()
	out.Status = AnalysisPending
	out.CreatedAt = now
	out.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `INSERT INTO chat_analyses (
		id, conversation_id, message_id, agent_id, agent_name, user_message, assistant_content,
		tool_calls, tool_results, model, provider, latency_ms, cost_usd, execution_mode,
		soul_version_id, variant, status, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		out.ID, out.ConversationID, out.MessageID, out.AgentID, out.AgentName, out.UserMessage,
		out.AssistantContent, rawOrEmpty(out.ToolCalls), rawOrEmpty(out.ToolResults),
		out.Model, out.Provider, nullInt(out.LatencyMs), nullFloat(out.CostUSD), out.ExecutionMode,
		out.SoulVersionID, out.Variant, out.Status, formatTime(now), formatTime(now))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("insert analysis: %w", err)
	}
	return &out, nil
}

// MarkAnalyzing moves a pending analysis to analyzing.
func (s *Store) MarkAnalyzing(ctx context.Context, id string) error {
	return s.transitionAnalysis(ctx, id, AnalysisAnalyzing,
		`status = ?, updated_at = ?`, AnalysisAnalyzing, s.stamp())
}

// CompleteAnalysis stores a parsed verdict and moves the row to completed.
func (s *Store) CompleteAnalysis(ctx context.Context, id string, res AnalysisResult) error {
	issues, err := json.Marshal(nonNilIssues(res.Issues))
	if err != nil {
		return fmt.Errorf("encode issues: %w", err)
	}
	used, _ := json.Marshal(nonNilStrings(res.SkillsUsed))
	expected, _ := json.Marshal(nonNilStrings(res.SkillsExpected))
	now := s.stamp()
	return s.transitionAnalysis(ctx, id, AnalysisCompleted,
		`status = ?, correctness = ?, tool_accuracy = ?, response_quality = ?, quality_score = ?,
		reasoning = ?, issues_detected = ?, skills_used = ?, skills_expected = ?,
		judge_raw_output = ?, analysis_latency_ms = ?, updated_at = ?, completed_at = ?`,
		AnalysisCompleted, res.Correctness, res.ToolAccuracy, res.ResponseQuality, res.QualityScore,
		res.Reasoning, string(issues), string(used), string(expected),
		res.RawOutput, res.LatencyMs, now, now)
}

// FailAnalysis moves a pending or analyzing row to error, keeping the raw
// judge output verbatim when there is one.
func (s *Store) FailAnalysis(ctx context.Context, id, message, rawOutput string, latencyMs int64) error {
	now := s.stamp()
	return s.transitionAnalysis(ctx, id, AnalysisError,
		`status = ?, error_message = ?, judge_raw_output = ?, analysis_latency_ms = ?,
		updated_at = ?, completed_at = ?`,
		AnalysisError, message, rawOutput, latencyMs, now, now)
}

// FailStaleAnalyses moves every pending or analyzing row to error with
// message and returns how many rows changed.
func (s *Store) FailStaleAnalyses(ctx context.Context, message string) (int, error) {
	now := s.stamp()
	res, err := s.db.ExecContext(ctx, `UPDATE chat_analyses
		SET status = ?, error_message = ?, updated_at = ?, completed_at = ?
		WHERE status IN (?, ?)`,
		AnalysisError, message, now, now, AnalysisPending, AnalysisAnalyzing)
	if err != nil {
		return 0, fmt.Errorf("fail stale analyses: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("fail stale analyses: %w", err)
	}
	return int(n), nil
}

// transitionAnalysis applies a conditional update guarded by the allowed
// predecessors of to. A row in any other state yields ErrConflict.
func (s *Store) transitionAnalysis(ctx context.Context, id, to, set string, args ...any) error {
	from := analysisPredecessors(to)
	query := `UPDATE chat_analyses SET ` + set + ` WHERE id = ? AND status IN (` + placeholders(len(from)) + `)`
	args = append(args, id)
	for _, f := range from {
		args = append(args, f)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update analysis %s to %s: %w", id, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update analysis %s to %s: %w", id, to, err)
	}
	if n == 0 {
		if _, err := s.GetAnalysis(ctx, id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

// GetAnalysis returns one analysis by id.
func (s *Store) GetAnalysis(ctx context.Context, id string) (*ChatAnalysis, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+analysisColumns+` FROM chat_analyses WHERE id = ?`, id)
	a, err := scanAnalysis(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis %s: %w", id, err)
	}
	return a, nil
}

// GetAnalysisByMessage returns the analysis recorded for a message, if any.
func (s *Store) GetAnalysisByMessage(ctx context.Context, messageID string) (*ChatAnalysis, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+analysisColumns+` FROM chat_analyses WHERE message_id = ?`, messageID)
	a, err := scanAnalysis(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis for message %s: %w", messageID, err)
	}
	return a, nil
}

// ListAnalyses returns analyses newest first.
func (s *Store) ListAnalyses(ctx context.Context, f AnalysisFilter) ([]ChatAnalysis, error) {
	query := `SELECT ` + analysisColumns + ` FROM chat_analyses WHERE 1=1`
	var args []any
	if f.AgentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, f.AgentID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.MinScore != nil {
		query += ` AND quality_score >= ?`
		args = append(args, *f.MinScore)
	}
	if f.MaxScore != nil {
		query += ` AND quality_score <= ?`
		args = append(args, *f.MaxScore)
	}
	if !f.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, formatTime(f.Since))
	}
	if !f.Until.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, formatTime(f.Until))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, max(f.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	var out []ChatAnalysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(r rowScanner) (*ChatAnalysis, error) {
	var (
		a                                     ChatAnalysis
		toolCalls, toolResults                string
		latency, analysisLatency              sql.NullInt64
		cost                                  sql.NullFloat64
		correctness, toolAcc, respQual, score sql.NullFloat64
		issues, used, expected                string
		createdAt, updatedAt                  string
		completedAt                           sql.NullString
	)
	err := r.Scan(&a.ID, &a.ConversationID, &a.MessageID, &a.AgentID, &a.AgentName, &a.UserMessage,
		&a.AssistantContent, &toolCalls, &toolResults, &a.Model, &a.Provider, &latency, &cost,
		&a.ExecutionMode, &a.SoulVersionID, &a.Variant, &correctness, &toolAcc, &respQual,
		&score, &a.Reasoning, &issues, &used, &expected, &a.Status,
		&analysisLatency, &a.ErrorMessage, &a.JudgeRawOutput, &createdAt, &updatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	a.ToolCalls = json.RawMessage(toolCalls)
	a.ToolResults = json.RawMessage(toolResults)
	a.LatencyMs = ptrInt(latency)
	a.CostUSD = ptrFloat(cost)
	a.Correctness = ptrFloat(correctness)
	a.ToolAccuracy = ptrFloat(toolAcc)
	a.ResponseQuality = ptrFloat(respQual)
	a.QualityScore = ptrFloat(score)
	a.AnalysisLatencyMs = ptrInt(analysisLatency)
	_ = json.Unmarshal([]byte(issues), &a.IssuesDetected)
	_ = json.Unmarshal([]byte(used), &a.SkillsUsed)
	_ = json.Unmarshal([]byte(expected), &a.SkillsExpected)
	a.IssuesDetected = nonNilIssues(a.IssuesDetected)
	a.SkillsUsed = nonNilStrings(a.SkillsUsed)
	a.SkillsExpected = nonNilStrings(a.SkillsExpected)
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	a.CompletedAt = parseNullTime(completedAt)
	return &a, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return "NULL"
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func rawOrEmpty(raw json.RawMessage) string {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return "[]"
	}
	return string(raw)
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func ptrInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func ptrFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nonNilIssues(v []DetectedIssue) []DetectedIssue {
	if v == nil {
		return []DetectedIssue{}
	}
	return v
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
