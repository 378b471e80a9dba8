package soul

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/itellico/joi-sub010/internal/bus"
	"github.com/itellico/joi-sub010/internal/keylock"
	"github.com/itellico/joi-sub010/internal/rollout"
	"github.com/itellico/joi-sub010/internal/store"
)

// Activation sources recorded in artifact headers and events.
const (
	SourceSeed           = "seed"
	SourceDirectUpdate   = "direct-update"
	SourceDirectRollback = "direct-rollback"
	SourceResync         = "resync"
)

// Change reports the result of a direct soul edit.
type Change struct {
	Version   *store.SoulVersion `json:"version"`
	Cancelled []string           `json:"cancelledRollouts"`
}

// Service performs direct soul operations outside the canary flow.
type Service struct {
	store     *store.Store
	locks     *keylock.Locker
	artifacts rollout.ArtifactSyncer
	events    bus.Publisher
}

// NewService creates a Service. locks must be the Locker shared with the
// rollout engine. artifacts and events may be nil.
func NewService(st *store.Store, locks *keylock.Locker, artifacts rollout.ArtifactSyncer, events bus.Publisher) *Service {
	if locks == nil {
		locks = keylock.New()
	}
	return &Service{store: st, locks: locks, artifacts: artifacts, events: events}
}

// Init seeds version 1 from content, or from the embedded default when
// content is empty. Agents that already have versions are left alone and
// created is false.
func (s *Service) Init(ctx context.Context, agentID, content, author string) (v *store.SoulVersion, created bool, err error) {
	if !ValidAgentID(agentID) {
		return nil, false, store.Invalidf("invalid agent id %q", agentID)
	}
	unlock := s.locks.Lock(rollout.AgentLockKey(agentID))
	defer unlock()

	existing, err := s.store.ListSoulVersions(ctx, agentID)
	if err != nil {
		return nil, false, err
	}
	if len(existing) > 0 {
		for i := range existing {
			if existing[i].Active {
				return &existing[i], false, nil
			}
		}
		return &existing[0], false, nil
	}

	if strings.TrimSpace(content) == "" {
		if content, err = DefaultTemplate(); err != nil {
			return nil, false, fmt.Errorf("load default soul: %w", err)
		}
	}
	v, err = s.store.CreateSoulVersion(ctx, agentID, content, author, "initial soul", true)
	if err != nil {
		return nil, false, err
	}
	slog.Info("Soul seeded", "agent", agentID, "version", v.Version)
	rollout.NotifyActivated(ctx, v, SourceSeed, s.artifacts, s.events)
	return v, true, nil
}

// Show returns the active version of agentID.
func (s *Service) Show(ctx context.Context, agentID string) (*store.SoulVersion, error) {
	return s.store.ActiveSoulVersion(ctx, agentID)
}

// Versions lists every version of agentID, newest first.
func (s *Service) Versions(ctx context.Context, agentID string) ([]store.SoulVersion, error) {
	return s.store.ListSoulVersions(ctx, agentID)
}

// Update makes content the agent's active soul as a new version and
// cancels any canary in flight.
func (s *Service) Update(ctx context.Context, agentID, content, author, note string) (*Change, error) {
	if !ValidAgentID(agentID) {
		return nil, store.Invalidf("invalid agent id %q", agentID)
	}
	unlock := s.locks.Lock(rollout.AgentLockKey(agentID))
	defer unlock()

	res, err := s.store.ReplaceSoul(ctx, agentID, content, author, note)
	if err != nil {
		return nil, err
	}
	s.announce(ctx, res, SourceDirectUpdate)
	return &Change{Version: res.Version, Cancelled: nonNil(res.Cancelled)}, nil
}

// Rollback reactivates versionID, or the version before the active one
// when versionID is empty, and cancels any canary in flight.
func (s *Service) Rollback(ctx context.Context, agentID, versionID string) (*Change, error) {
	unlock := s.locks.Lock(rollout.AgentLockKey(agentID))
	defer unlock()

	res, err := s.store.ReactivateSoul(ctx, agentID, versionID)
	if err != nil {
		return nil, err
	}
	s.announce(ctx, res, SourceDirectRollback)
	return &Change{Version: res.Version, Cancelled: nonNil(res.Cancelled)}, nil
}

// Resync rewrites the artifact of every agent from the store.
func (s *Service) Resync(ctx context.Context) (int, error) {
	if s.artifacts == nil {
		return 0, nil
	}
	agents, err := s.store.ListSoulAgents(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, agentID := range agents {
		v, err := s.store.ActiveSoulVersion(ctx, agentID)
		if err != nil {
			slog.Warn("Soul resync skipped agent", "agent", agentID, "error", err)
			continue
		}
		if err := s.artifacts.Sync(ctx, v, SourceResync); err != nil {
			return n, fmt.Errorf("sync soul for %s: %w", agentID, err)
		}
		n++
	}
	return n, nil
}

func (s *Service) announce(ctx context.Context, res *store.SoulChange, source string) {
	slog.Info("Soul activated", "agent", res.Version.AgentID, "version", res.Version.Version,
		"source", source, "cancelledRollouts", len(res.Cancelled))
	if s.events != nil {
		for _, id := range res.Cancelled {
			ro, err := s.store.GetRollout(ctx, id)
			if err != nil {
				continue
			}
			s.events.Publish(&bus.Event{
				Type: bus.EventRolloutDecided,
				Key:  id,
				Data: rollout.DecidedEvent{Rollout: ro, Trigger: source},
			})
		}
	}
	rollout.NotifyActivated(ctx, res.Version, source, s.artifacts, s.events)
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
