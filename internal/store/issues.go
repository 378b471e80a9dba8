package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// IssueFilter narrows ListIssues.
type IssueFilter struct {
	Status   string
	Severity string
	Tag      string
	AgentID  string
	Since    time.Time
	Limit    int
	Offset   int
}

// CreateIssue stores an issue and its tags in one transaction.
func (s *Store) CreateIssue(ctx context.Context, in *Issue) (*Issue, error) {
	if in == nil {
		return nil, Invalidf("issue is required")
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, Invalidf("issue title is required")
	}
	if !ValidSeverity(in.Severity) {
		return nil, Invalidf("invalid issue severity %q", in.Severity)
	}
	out := *in
	if out.ID == "" {
		out.ID = newID()
	}
	if out.Status == "" {
		out.Status = IssueOpen
	}
	if !ValidIssueStatus(out.Status) {
		return nil, Invalidf("invalid issue status %q", out.Status)
	}
	if out.Source == "" {
		out.Source = SourceHuman
	}
	out.Tags = normalizeTags(out.Tags)
	if out.Evidence == nil {
		out.Evidence = []Evidence{}
	}
	evidence, err := json.Marshal(out.Evidence)
	if err != nil {
		return nil, fmt.Errorf("encode evidence: %w", err)
	}
	now := s.Now()
	out.CreatedAt = now
	out.UpdatedAt = now

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO issues
			(id, title, description, severity, category, status, source, agent_id, evidence, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			out.ID, out.Title, out.Description, out.Severity, out.Category, out.Status, out.Source,
			out.AgentID, string(evidence), formatTime(now), formatTime(now)); err != nil {
			if isUniqueViolation(err) {
				return ErrConflict
			}
			return fmt.Errorf("insert issue: %w", err)
		}
		for _, tag := range out.Tags {
			if _, err := tx.ExecContext(ctx, `INSERT INTO issue_tags (issue_id, tag) VALUES (?, ?)`, out.ID, tag); err != nil {
				return fmt.Errorf("insert issue tag %s: %w", tag, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetIssue returns one issue with its tags.
func (s *Store) GetIssue(ctx context.Context, id string) (*Issue, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, title, description, severity, category, status, source,
		agent_id, evidence, created_at, updated_at FROM issues WHERE id = ?`, id)
	issue, err := scanIssue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get issue %s: %w", id, err)
	}
	tags, err := s.issueTags(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	issue.Tags = nonNilStrings(tags[id])
	return issue, nil
}

// ListIssues returns issues newest first.
func (s *Store) ListIssues(ctx context.Context, f IssueFilter) ([]Issue, error) {
	query := `SELECT id, title, description, severity, category, status, source, agent_id, evidence,
		created_at, updated_at FROM issues WHERE 1=1`
	var args []any
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, f.Severity)
	}
	if f.AgentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, f.AgentID)
	}
	if f.Tag != "" {
		query += ` AND id IN (SELECT issue_id FROM issue_tags WHERE tag = ?)`
		args = append(args, f.Tag)
	}
	if !f.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, formatTime(f.Since))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, max(f.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	var out []Issue
	var ids []string
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		out = append(out, *issue)
		ids = append(ids, issue.ID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("list issues: %w", err)
	}
	rows.Close()

	tags, err := s.issueTags(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Tags = nonNilStrings(tags[out[i].ID])
	}
	return out, nil
}

// UpdateIssueStatus changes the triage status of an issue.
func (s *Store) UpdateIssueStatus(ctx context.Context, id, status string) (*Issue, error) {
	if !ValidIssueStatus(status) {
		return nil, Invalidf("invalid issue status %q", status)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE issues SET status = ?, updated_at = ? WHERE id = ?`,
		status, s.stamp(), id)
	if err != nil {
		return nil, fmt.Errorf("update issue %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetIssue(ctx, id)
}

// CountIssuesByTag counts issues carrying tag created at or after since.
func (s *Store) CountIssuesByTag(ctx context.Context, tag string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM issues i
		JOIN issue_tags t ON t.issue_id = i.id
		WHERE t.tag = ? AND i.created_at >= ?`, tag, formatTime(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count issues tagged %s: %w", tag, err)
	}
	return n, nil
}

func (s *Store) issueTags(ctx context.Context, ids []string) (map[string][]string, error) {
	out := make(map[string][]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `SELECT issue_id, tag FROM issue_tags
		WHERE issue_id IN (`+placeholders(len(ids))+`) ORDER BY tag`, args...)
	if err != nil {
		return nil, fmt.Errorf("load issue tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, tag string
		if err := rows.Scan(&id, &tag); err != nil {
			return nil, fmt.Errorf("scan issue tag: %w", err)
		}
		out[id] = append(out[id], tag)
	}
	return out, rows.Err()
}

func scanIssue(r rowScanner) (*Issue, error) {
	var (
		issue                Issue
		evidence             string
		createdAt, updatedAt string
	)
	if err := r.Scan(&issue.ID, &issue.Title, &issue.Description, &issue.Severity, &issue.Category,
		&issue.Status, &issue.Source, &issue.AgentID, &evidence, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(evidence), &issue.Evidence)
	if issue.Evidence == nil {
		issue.Evidence = []Evidence{}
	}
	issue.CreatedAt = parseTime(createdAt)
	issue.UpdatedAt = parseTime(updatedAt)
	return &issue, nil
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// CountIssuesByStatus returns the number of issues in each status.
func (s *Store) CountIssuesByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM issues GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count issues: %w", err)
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan issue count: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}
