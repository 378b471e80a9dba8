package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const rolloutColumns = `id, agent_id, baseline_version_id, candidate_version_id, traffic_percent,
	status, reason, evaluation, created_at, updated_at, decided_at`

// RolloutFilter narrows ListRollouts.
type RolloutFilter struct {
	AgentID string
	Status  string
	Limit   int
}

// StartRollout records a candidate soul version for agentID and opens a
// canary against the current active version. The agent must already have an
// active version; a second canary for the same agent yields ErrConflict.
func (s *Store) StartRollout(ctx context.Context, agentID, content, author, note string, trafficPercent int) (*SoulRollout, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, Invalidf("agent id is required")
	}
	if strings.TrimSpace(content) == "" {
		return nil, Invalidf("soul content is required")
	}
	if trafficPercent < 0 || trafficPercent > 100 {
		return nil, Invalidf("traffic percent must be within [0,100], got %d", trafficPercent)
	}
	id := newID()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var baseline string
		err := tx.QueryRowContext(ctx, `SELECT id FROM soul_versions WHERE agent_id = ? AND active = 1`,
			agentID).Scan(&baseline)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("agent %s has no active soul version: %w", agentID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load baseline soul: %w", err)
		}
		var open int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM soul_rollouts WHERE agent_id = ? AND status = ?`,
			agentID, RolloutCanaryActive).Scan(&open); err != nil {
			return fmt.Errorf("check open rollouts: %w", err)
		}
		if open > 0 {
			return ErrConflict
		}
		candidate, err := s.insertSoulVersionTx(ctx, tx, agentID, content, author, note)
		if err != nil {
			return err
		}
		now := s.stamp()
		_, err = tx.ExecContext(ctx, `INSERT INTO soul_rollouts
			(id, agent_id, baseline_version_id, candidate_version_id, traffic_percent, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, agentID, baseline, candidate, trafficPercent, RolloutCanaryActive, now, now)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrConflict
			}
			return fmt.Errorf("insert rollout: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetRollout(ctx, id)
}

// GetRollout returns one rollout by id.
func (s *Store) GetRollout(ctx context.Context, id string) (*SoulRollout, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+rolloutColumns+` FROM soul_rollouts WHERE id = ?`, id)
	r, err := scanRollout(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get rollout %s: %w", id, err)
	}
	return r, nil
}

// ActiveRollout returns the canary_active rollout for agentID, or nil when
// there is none.
func (s *Store) ActiveRollout(ctx context.Context, agentID string) (*SoulRollout, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+rolloutColumns+` FROM soul_rollouts
		WHERE agent_id = ? AND status = ?`, agentID, RolloutCanaryActive)
	r, err := scanRollout(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active rollout for %s: %w", agentID, err)
	}
	return r, nil
}

// ListRollouts returns rollouts newest first.
func (s *Store) ListRollouts(ctx context.Context, f RolloutFilter) ([]SoulRollout, error) {
	query := `SELECT ` + rolloutColumns + ` FROM soul_rollouts WHERE 1=1`
	var args []any
	if f.AgentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, f.AgentID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list rollouts: %w", err)
	}
	defer rows.Close()
	var out []SoulRollout
	for rows.Next() {
		r, err := scanRollout(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rollout: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// SetRolloutTraffic changes the canary share of a live rollout. Conversations
// that already hold an assignment keep it.
func (s *Store) SetRolloutTraffic(ctx context.Context, id string, trafficPercent int) (*SoulRollout, error) {
	if trafficPercent < 0 || trafficPercent > 100 {
		return nil, Invalidf("traffic percent must be within [0,100], got %d", trafficPercent)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE soul_rollouts SET traffic_percent = ?, updated_at = ?
		WHERE id = ? AND status = ?`, trafficPercent, s.stamp(), id, RolloutCanaryActive)
	if err != nil {
		return nil, fmt.Errorf("set rollout traffic: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetRollout(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrConflict
	}
	return s.GetRollout(ctx, id)
}

// DecideRollout moves a canary_active rollout to a terminal status in one
// transaction. Promotion activates the candidate; rollback keeps the
// baseline active. A rollout that already left canary_active yields
// ErrConflict, so concurrent deciders cannot both apply.
func (s *Store) DecideRollout(ctx context.Context, id, to, reason string, evaluation json.RawMessage) (*SoulRollout, error) {
	if !CanTransitionRollout(RolloutCanaryActive, to) {
		return nil, Invalidf("invalid rollout decision %q", to)
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var agentID, baseline, candidate string
		err := tx.QueryRowContext(ctx, `SELECT agent_id, baseline_version_id, candidate_version_id
			FROM soul_rollouts WHERE id = ?`, id).Scan(&agentID, &baseline, &candidate)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load rollout %s: %w", id, err)
		}
		now := s.stamp()
		res, err := tx.ExecContext(ctx, `UPDATE soul_rollouts
			SET status = ?, reason = ?, evaluation = ?, updated_at = ?, decided_at = ?
			WHERE id = ? AND status = ?`, to, reason, string(evaluation), now, now, id, RolloutCanaryActive)
		if err != nil {
			return fmt.Errorf("decide rollout %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrConflict
		}
		switch to {
		case RolloutPromoted:
			return s.activateTx(ctx, tx, agentID, candidate)
		case RolloutRolledBack:
			return s.activateTx(ctx, tx, agentID, baseline)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetRollout(ctx, id)
}

// cancelCanariesTx cancels every canary_active rollout of agentID.
func (s *Store) cancelCanariesTx(ctx context.Context, tx *sql.Tx, agentID, reason string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM soul_rollouts WHERE agent_id = ? AND status = ?`,
		agentID, RolloutCanaryActive)
	if err != nil {
		return nil, fmt.Errorf("find canaries: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if len(ids) == 0 {
		return nil, nil
	}
	now := s.stamp()
	if _, err := tx.ExecContext(ctx, `UPDATE soul_rollouts SET status = ?, reason = ?, updated_at = ?, decided_at = ?
		WHERE agent_id = ? AND status = ?`, RolloutCancelled, reason, now, now, agentID, RolloutCanaryActive); err != nil {
		return nil, fmt.Errorf("cancel canaries: %w", err)
	}
	return ids, nil
}

func scanRollout(r rowScanner) (*SoulRollout, error) {
	var (
		ro                   SoulRollout
		evaluation           string
		createdAt, updatedAt string
		decidedAt            sql.NullString
	)
	if err := r.Scan(&ro.ID, &ro.AgentID, &ro.BaselineVersionID, &ro.CandidateVersionID, &ro.TrafficPercent,
		&ro.Status, &ro.Reason, &evaluation, &createdAt, &updatedAt, &decidedAt); err != nil {
		return nil, err
	}
	if evaluation != "" {
		ro.Evaluation = json.RawMessage(evaluation)
	}
	ro.CreatedAt = parseTime(createdAt)
	ro.UpdatedAt = parseTime(updatedAt)
	ro.DecidedAt = parseNullTime(decidedAt)
	return &ro, nil
}
