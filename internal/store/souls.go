package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const soulColumns = `id, agent_id, version, content, author, note, active, created_at, activated_at`

// SoulChange describes an activation that happened inside a store call:
// the now-active version and any canaries it cancelled.
type SoulChange struct {
	Version   *SoulVersion
	Cancelled []string
}

// CreateSoulVersion appends a new version for agentID. When activate is set
// the new version replaces the current active one in the same transaction.
func (s *Store) CreateSoulVersion(ctx context.Context, agentID, content, author, note string, activate bool) (*SoulVersion, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, Invalidf("agent id is required")
	}
	if strings.TrimSpace(content) == "" {
		return nil, Invalidf("soul content is required")
	}
	var id string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = s.insertSoulVersionTx(ctx, tx, agentID, content, author, note)
		if err != nil {
			return err
		}
		if activate {
			return s.activateTx(ctx, tx, agentID, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetSoulVersion(ctx, id)
}

// ReplaceSoul creates a new active version and cancels any canary for the
// agent, whose baseline assumption no longer holds.
func (s *Store) ReplaceSoul(ctx context.Context, agentID, content, author, note string) (*SoulChange, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, Invalidf("agent id is required")
	}
	if strings.TrimSpace(content) == "" {
		return nil, Invalidf("soul content is required")
	}
	var (
		id        string
		cancelled []string
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		cancelled, err = s.cancelCanariesTx(ctx, tx, agentID, "superseded by direct soul update")
		if err != nil {
			return err
		}
		id, err = s.insertSoulVersionTx(ctx, tx, agentID, content, author, note)
		if err != nil {
			return err
		}
		return s.activateTx(ctx, tx, agentID, id)
	})
	if err != nil {
		return nil, err
	}
	v, err := s.GetSoulVersion(ctx, id)
	if err != nil {
		return nil, err
	}
	return &SoulChange{Version: v, Cancelled: cancelled}, nil
}

// ReactivateSoul makes an existing version active again and cancels any
// canary for the agent. An empty versionID selects the newest version older
// than the current active one.
func (s *Store) ReactivateSoul(ctx context.Context, agentID, versionID string) (*SoulChange, error) {
	var (
		target    string
		cancelled []string
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		target = versionID
		if target == "" {
			err := tx.QueryRowContext(ctx, `SELECT id FROM soul_versions
				WHERE agent_id = ? AND active = 0
				  AND version < COALESCE((SELECT version FROM soul_versions WHERE agent_id = ? AND active = 1), 2147483647)
				ORDER BY version DESC LIMIT 1`, agentID, agentID).Scan(&target)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("no previous soul version for agent %s: %w", agentID, ErrNotFound)
			}
			if err != nil {
				return fmt.Errorf("find previous soul version: %w", err)
			}
		}
		var owner string
		err := tx.QueryRowContext(ctx, `SELECT agent_id FROM soul_versions WHERE id = ?`, target).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != agentID) {
			return fmt.Errorf("soul version %s for agent %s: %w", target, agentID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load soul version %s: %w", target, err)
		}
		cancelled, err = s.cancelCanariesTx(ctx, tx, agentID, "superseded by direct soul rollback")
		if err != nil {
			return err
		}
		return s.activateTx(ctx, tx, agentID, target)
	})
	if err != nil {
		return nil, err
	}
	v, err := s.GetSoulVersion(ctx, target)
	if err != nil {
		return nil, err
	}
	return &SoulChange{Version: v, Cancelled: cancelled}, nil
}

// ActivateSoulVersion marks versionID active for its agent, deactivating the
// previous one in the same transaction.
func (s *Store) ActivateSoulVersion(ctx context.Context, agentID, versionID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.activateTx(ctx, tx, agentID, versionID)
	})
}

// ActiveSoulVersion returns the active version for agentID or ErrNotFound.
func (s *Store) ActiveSoulVersion(ctx context.Context, agentID string) (*SoulVersion, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+soulColumns+` FROM soul_versions
		WHERE agent_id = ? AND active = 1`, agentID)
	v, err := scanSoulVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get active soul for %s: %w", agentID, err)
	}
	return v, nil
}

// GetSoulVersion returns one version by id.
func (s *Store) GetSoulVersion(ctx context.Context, id string) (*SoulVersion, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+soulColumns+` FROM soul_versions WHERE id = ?`, id)
	v, err := scanSoulVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get soul version %s: %w", id, err)
	}
	return v, nil
}

// ListSoulVersions returns every version of agentID, newest first.
func (s *Store) ListSoulVersions(ctx context.Context, agentID string) ([]SoulVersion, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+soulColumns+` FROM soul_versions
		WHERE agent_id = ? ORDER BY version DESC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list soul versions: %w", err)
	}
	defer rows.Close()
	var out []SoulVersion
	for rows.Next() {
		v, err := scanSoulVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan soul version: %w", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// CountActiveSoulVersions returns how many versions of agentID are active.
func (s *Store) CountActiveSoulVersions(ctx context.Context, agentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM soul_versions WHERE agent_id = ? AND active = 1`, agentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active souls: %w", err)
	}
	return n, nil
}

// ListSoulAgents returns the agents that have at least one soul version.
func (s *Store) ListSoulAgents(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT agent_id FROM soul_versions ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("list soul agents: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) insertSoulVersionTx(ctx context.Context, tx *sql.Tx, agentID, content, author, note string) (string, error) {
	var next int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) + 1 FROM soul_versions WHERE agent_id = ?`,
		agentID).Scan(&next); err != nil {
		return "", fmt.Errorf("next soul version: %w", err)
	}
	id := newID()
	_, err := tx.ExecContext(ctx, `INSERT INTO soul_versions
		(id, agent_id, version, content, author, note, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		id, agentID, next, content, author, note, s.stamp())
	if err != nil {
		if isUniqueViolation(err) {
			return "", ErrConflict
		}
		return "", fmt.Errorf("insert soul version: %w", err)
	}
	return id, nil
}

// activateTx flips the active flag to versionID. The partial unique index on
// active rows rejects any interleaving that would leave two actives.
func (s *Store) activateTx(ctx context.Context, tx *sql.Tx, agentID, versionID string) error {
	if _, err := tx.ExecContext(ctx, `UPDATE soul_versions SET active = 0
		WHERE agent_id = ? AND active = 1 AND id != ?`, agentID, versionID); err != nil {
		return fmt.Errorf("deactivate soul versions: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE soul_versions SET active = 1, activated_at = ?
		WHERE id = ? AND agent_id = ? AND active = 0`, s.stamp(), versionID, agentID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("activate soul version %s: %w", versionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var active bool
		err := tx.QueryRowContext(ctx, `SELECT active FROM soul_versions WHERE id = ? AND agent_id = ?`,
			versionID, agentID).Scan(&active)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("soul version %s: %w", versionID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("check soul version %s: %w", versionID, err)
		}
	}
	return nil
}

func scanSoulVersion(r rowScanner) (*SoulVersion, error) {
	var (
		v           SoulVersion
		active      int
		createdAt   string
		activatedAt sql.NullString
	)
	if err := r.Scan(&v.ID, &v.AgentID, &v.Version, &v.Content, &v.Author, &v.Note, &active,
		&createdAt, &activatedAt); err != nil {
		return nil, err
	}
	v.Active = active == 1
	v.CreatedAt = parseTime(createdAt)
	v.ActivatedAt = parseNullTime(activatedAt)
	return &v, nil
}
