package rollout

import (
	"context"
	"errors"
	"time"

	"github.com/itellico/joi-sub010/internal/store"
)

// AgentSummary is one agent's soul state.
type AgentSummary struct {
	AgentID       string             `json:"agentId"`
	ActiveVersion *VersionRef        `json:"activeVersion,omitempty"`
	Versions      int                `json:"versions"`
	Rollout       *store.SoulRollout `json:"rollout,omitempty"`
}

// VersionRef identifies a soul version without its content.
type VersionRef struct {
	ID          string     `json:"id"`
	Version     int        `json:"version"`
	Author      string     `json:"author,omitempty"`
	ActivatedAt *time.Time `json:"activatedAt,omitempty"`
}

// Summary is the governance overview.
type Summary struct {
	Agents         []AgentSummary      `json:"agents"`
	ActiveRollouts int                 `json:"activeRollouts"`
	IssuesByStatus map[string]int      `json:"issuesByStatus"`
	Quality        *store.QualityStats `json:"quality"`
	Recent         []store.SoulRollout `json:"recentRollouts"`
}

// Summary reports every agent's active soul and open canary together with
// issue counts and quality stats over the trailing statsDays.
func (e *Engine) Summary(ctx context.Context, statsDays int) (*Summary, error) {
	agents, err := e.store.ListSoulAgents(ctx)
	if err != nil {
		return nil, err
	}
	out := &Summary{Agents: make([]AgentSummary, 0, len(agents))}
	for _, agentID := range agents {
		as := AgentSummary{AgentID: agentID}
		versions, err := e.store.ListSoulVersions(ctx, agentID)
		if err != nil {
			return nil, err
		}
		as.Versions = len(versions)
		active, err := e.store.ActiveSoulVersion(ctx, agentID)
		switch {
		case err == nil:
			as.ActiveVersion = &VersionRef{
				ID:          active.ID,
				Version:     active.Version,
				Author:      active.Author,
				ActivatedAt: active.ActivatedAt,
			}
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
		ro, err := e.store.ActiveRollout(ctx, agentID)
		if err != nil {
			return nil, err
		}
		if ro != nil {
			as.Rollout = ro
			out.ActiveRollouts++
		}
		out.Agents = append(out.Agents, as)
	}

	if out.IssuesByStatus, err = e.store.CountIssuesByStatus(ctx); err != nil {
		return nil, err
	}
	if out.Quality, err = e.store.QualityStats(ctx, statsDays); err != nil {
		return nil, err
	}
	if out.Recent, err = e.store.ListRollouts(ctx, store.RolloutFilter{Limit: 10}); err != nil {
		return nil, err
	}
	if out.Recent == nil {
		out.Recent = []store.SoulRollout{}
	}
	return out, nil
}
