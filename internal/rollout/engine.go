// Package rollout assigns conversations to soul variants and promotes or
// rolls back canary soul versions from observer-derived metrics.
package rollout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/itellico/joi-sub010/internal/bus"
	"github.com/itellico/joi-sub010/internal/keylock"
	"github.com/itellico/joi-sub010/internal/store"
)

// Triggers recorded on decisions.
const (
	TriggerEvaluation = "evaluation"
	TriggerManual     = "manual"
)

// ArtifactSyncer mirrors an agent's active soul to disk.
type ArtifactSyncer interface {
	Sync(ctx context.Context, v *store.SoulVersion, source string) error
}

// ObserverSettings supplies the observer configuration whose quality
// threshold defines a failed analysis.
type ObserverSettings interface {
	ObserverConfig(ctx context.Context) (store.ObserverConfig, error)
}

// defaultFailureThreshold applies when neither the policy nor an observer
// configuration sets one.
const defaultFailureThreshold = 0.6

// PolicySource supplies the evaluation policy at evaluation time.
type PolicySource func() Policy

// StaticPolicy always returns p.
func StaticPolicy(p Policy) PolicySource {
	return func() Policy { return p }
}

// StartRequest opens a canary.
type StartRequest struct {
	AgentID        string `json:"agentId"`
	Content        string `json:"content"`
	Author         string `json:"author,omitempty"`
	Note           string `json:"note,omitempty"`
	TrafficPercent int    `json:"trafficPercent"`
}

// DecidedEvent is the payload of rollout_decided events.
type DecidedEvent struct {
	Rollout    *store.SoulRollout `json:"rollout"`
	Trigger    string             `json:"trigger"`
	Evaluation *Evaluation        `json:"evaluation,omitempty"`
}

// ActivatedEvent is the payload of soul_activated events.
type ActivatedEvent struct {
	AgentID   string `json:"agentId"`
	VersionID string `json:"versionId"`
	Version   int    `json:"version"`
	Source    string `json:"source"`
}

// AllResult summarises an evaluate-all pass.
type AllResult struct {
	Evaluated   int           `json:"evaluated"`
	Promoted    int           `json:"promoted"`
	RolledBack  int           `json:"rolledBack"`
	Pending     int           `json:"pending"`
	Evaluations []*Evaluation `json:"evaluations"`
	Errors      []string      `json:"errors,omitempty"`
}

// Engine drives the rollout state machine. Decisions for one rollout are
// serialized in process and guarded by conditional updates in the store.
type Engine struct {
	store     *store.Store
	locks     *keylock.Locker
	policy    PolicySource
	events    bus.Publisher
	artifacts ArtifactSyncer
	observer  ObserverSettings
}

// NewEngine creates an Engine. locks must be shared with anything else
// that changes an agent's active soul. events and artifacts may be nil.
func NewEngine(st *store.Store, locks *keylock.Locker, policy PolicySource, events bus.Publisher, artifacts ArtifactSyncer) *Engine {
	if locks == nil {
		locks = keylock.New()
	}
	if policy == nil {
		policy = StaticPolicy(DefaultPolicy())
	}
	return &Engine{store: st, locks: locks, policy: policy, events: events, artifacts: artifacts}
}

// UseObserverConfig makes evaluations count analyses below the observer's
// current quality threshold as failures.
func (e *Engine) UseObserverConfig(src ObserverSettings) {
	e.observer = src
}

// failureThreshold returns the policy override when set, else the
// observer's quality threshold.
func (e *Engine) failureThreshold(ctx context.Context, p Policy) (float64, error) {
	if p.FailureScore > 0 {
		return p.FailureScore, nil
	}
	if e.observer == nil {
		return defaultFailureThreshold, nil
	}
	cfg, err := e.observer.ObserverConfig(ctx)
	if err != nil {
		return 0, fmt.Errorf("observer config: %w", err)
	}
	return cfg.QualityThreshold, nil
}

// AgentLockKey is the keylock key guarding an agent's active soul.
func AgentLockKey(agentID string) string { return "agent:" + agentID }

func rolloutLockKey(id string) string { return "rollout:" + id }

// StartCanary records the candidate version and opens a canary_active rollout.
func (e *Engine) StartCanary(ctx context.Context, req StartRequest) (*store.SoulRollout, error) {
	unlock := e.locks.Lock(AgentLockKey(req.AgentID))
	defer unlock()

	ro, err := e.store.StartRollout(ctx, req.AgentID, req.Content, req.Author, req.Note, req.TrafficPercent)
	if err != nil {
		return nil, err
	}
	slog.Info("Rollout canary started", "rollout", ro.ID, "agent", ro.AgentID,
		"baseline", ro.BaselineVersionID, "candidate", ro.CandidateVersionID, "traffic", ro.TrafficPercent)
	return ro, nil
}

// SetTraffic changes the candidate share of a canary_active rollout.
// Existing assignments are unaffected.
func (e *Engine) SetTraffic(ctx context.Context, id string, trafficPercent int) (*store.SoulRollout, error) {
	unlock := e.locks.Lock(rolloutLockKey(id))
	defer unlock()

	ro, err := e.store.SetRolloutTraffic(ctx, id, trafficPercent)
	if err != nil {
		return nil, err
	}
	slog.Info("Rollout traffic changed", "rollout", id, "traffic", trafficPercent)
	return ro, nil
}

// Evaluate compares the variants of one canary_active rollout and applies
// the resulting promotion or rollback. A pending decision changes nothing.
// A rollout that is no longer canary_active yields store.ErrConflict.
func (e *Engine) Evaluate(ctx context.Context, id string) (*Evaluation, error) {
	unlock := e.locks.Lock(rolloutLockKey(id))
	defer unlock()

	ro, err := e.store.GetRollout(ctx, id)
	if err != nil {
		return nil, err
	}
	if ro.Terminal() {
		return nil, fmt.Errorf("rollout %s is %s: %w", id, ro.Status, store.ErrConflict)
	}

	policy := e.policy()
	threshold, err := e.failureThreshold(ctx, policy)
	if err != nil {
		return nil, err
	}
	windowEnd := e.store.Now()
	query := store.VariantQuery{
		AgentID:   ro.AgentID,
		Since:     ro.CreatedAt,
		Until:     windowEnd.Add(time.Nanosecond),
		Threshold: threshold,
	}
	query.SoulVersionID = ro.BaselineVersionID
	baseline, err := e.store.VariantMetrics(ctx, query)
	if err != nil {
		return nil, err
	}
	query.SoulVersionID = ro.CandidateVersionID
	candidate, err := e.store.VariantMetrics(ctx, query)
	if err != nil {
		return nil, err
	}

	decision, reason, signals := Decide(policy, *baseline, *candidate)
	ev := &Evaluation{
		RolloutID:   ro.ID,
		AgentID:     ro.AgentID,
		Decision:    decision,
		Reason:      reason,
		Baseline:    *baseline,
		Candidate:   *candidate,
		Signals:     signals,
		MinSamples:  policy.MinSamples,
		Threshold:   threshold,
		WindowStart: ro.CreatedAt,
		WindowEnd:   windowEnd,
		Status:      ro.Status,
	}
	evaluationsTotal.WithLabelValues(string(decision)).Inc()
	slog.Info("Rollout evaluated", "rollout", ro.ID, "agent", ro.AgentID, "decision", decision,
		"reason", reason, "baselineSamples", baseline.Samples, "candidateSamples", candidate.Samples)

	var to string
	switch decision {
	case DecisionPromote:
		to = store.RolloutPromoted
	case DecisionRollback:
		to = store.RolloutRolledBack
	default:
		return ev, nil
	}
	decided, err := e.decide(ctx, ro, to, reason, TriggerEvaluation, ev)
	if err != nil {
		return nil, err
	}
	ev.Applied = true
	ev.Status = decided.Status
	return ev, nil
}

// Promote activates the candidate without evaluating.
func (e *Engine) Promote(ctx context.Context, id, reason string) (*store.SoulRollout, error) {
	return e.manual(ctx, id, store.RolloutPromoted, reason, "promoted manually")
}

// Rollback keeps the baseline and closes the rollout.
func (e *Engine) Rollback(ctx context.Context, id, reason string) (*store.SoulRollout, error) {
	return e.manual(ctx, id, store.RolloutRolledBack, reason, "rolled back manually")
}

// Cancel closes the rollout without touching the active version.
func (e *Engine) Cancel(ctx context.Context, id, reason string) (*store.SoulRollout, error) {
	return e.manual(ctx, id, store.RolloutCancelled, reason, "cancelled manually")
}

func (e *Engine) manual(ctx context.Context, id, to, reason, fallback string) (*store.SoulRollout, error) {
	unlock := e.locks.Lock(rolloutLockKey(id))
	defer unlock()

	ro, err := e.store.GetRollout(ctx, id)
	if err != nil {
		return nil, err
	}
	if ro.Terminal() {
		return nil, fmt.Errorf("rollout %s is %s: %w", id, ro.Status, store.ErrConflict)
	}
	if reason == "" {
		reason = fallback
	}
	return e.decide(ctx, ro, to, reason, TriggerManual, nil)
}

// decide applies one transition under the agent lock. The caller holds the
// rollout lock.
func (e *Engine) decide(ctx context.Context, ro *store.SoulRollout, to, reason, trigger string, ev *Evaluation) (*store.SoulRollout, error) {
	unlock := e.locks.Lock(AgentLockKey(ro.AgentID))
	defer unlock()

	var record json.RawMessage
	if ev != nil {
		ev.Applied = true
		ev.Status = to
		raw, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("encode evaluation: %w", err)
		}
		record = raw
	}
	decided, err := e.store.DecideRollout(ctx, ro.ID, to, reason, record)
	if err != nil {
		if ev != nil {
			ev.Applied = false
			ev.Status = ro.Status
		}
		return nil, err
	}
	decisionsTotal.WithLabelValues(to, trigger).Inc()
	slog.Info("Rollout decided", "rollout", ro.ID, "agent", ro.AgentID, "status", to, "trigger", trigger, "reason", reason)

	if to != store.RolloutCancelled {
		e.activated(ctx, ro.AgentID, "rollout:"+to)
	}
	if e.events != nil {
		e.events.Publish(&bus.Event{
			Type: bus.EventRolloutDecided,
			Key:  ro.ID,
			Data: DecidedEvent{Rollout: decided, Trigger: trigger, Evaluation: ev},
		})
	}
	return decided, nil
}

// activated syncs the artifact and announces the agent's active version.
// Sync failures are logged; the store remains authoritative.
func (e *Engine) activated(ctx context.Context, agentID, source string) {
	v, err := e.store.ActiveSoulVersion(ctx, agentID)
	if err != nil {
		slog.Error("Rollout could not load active soul", "agent", agentID, "error", err)
		return
	}
	NotifyActivated(ctx, v, source, e.artifacts, e.events)
}

// NotifyActivated writes the artifact for v and publishes soul_activated.
func NotifyActivated(ctx context.Context, v *store.SoulVersion, source string, artifacts ArtifactSyncer, events bus.Publisher) {
	if artifacts != nil {
		if err := artifacts.Sync(ctx, v, source); err != nil {
			slog.Error("Soul artifact sync failed", "agent", v.AgentID, "version", v.Version, "error", err)
		}
	}
	if events != nil {
		events.Publish(&bus.Event{
			Type: bus.EventSoulActivated,
			Key:  v.AgentID,
			Data: ActivatedEvent{AgentID: v.AgentID, VersionID: v.ID, Version: v.Version, Source: source},
		})
	}
}

// EvaluateAll evaluates every canary_active rollout. Rollouts decided
// concurrently are skipped; other failures are collected and the pass
// continues.
func (e *Engine) EvaluateAll(ctx context.Context) (*AllResult, error) {
	open, err := e.store.ListRollouts(ctx, store.RolloutFilter{Status: store.RolloutCanaryActive})
	if err != nil {
		return nil, err
	}
	activeCanaries.Set(float64(len(open)))

	res := &AllResult{Evaluations: []*Evaluation{}}
	for _, ro := range open {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ev, err := e.Evaluate(ctx, ro.ID)
		if errors.Is(err, store.ErrConflict) {
			slog.Info("Rollout already decided, skipping", "rollout", ro.ID)
			continue
		}
		if err != nil {
			slog.Warn("Rollout evaluation failed", "rollout", ro.ID, "error", err)
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", ro.ID, err))
			continue
		}
		res.Evaluated++
		res.Evaluations = append(res.Evaluations, ev)
		switch {
		case !ev.Applied:
			res.Pending++
		case ev.Decision == DecisionPromote:
			res.Promoted++
		case ev.Decision == DecisionRollback:
			res.RolledBack++
		}
	}
	slog.Info("Rollout evaluation pass finished", "evaluated", res.Evaluated, "promoted", res.Promoted,
		"rolledBack", res.RolledBack, "pending", res.Pending, "errors", len(res.Errors))
	return res, nil
}
