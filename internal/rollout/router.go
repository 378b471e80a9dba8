package rollout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/itellico/joi-sub010/internal/store"
)

// Assignment is the soul variant recorded for one conversation.
type Assignment struct {
	AgentID        string    `json:"agentId"`
	ConversationID string    `json:"conversationId"`
	RolloutID      string    `json:"rolloutId,omitempty"`
	SoulVersionID  string    `json:"soulVersionId"`
	Variant        string    `json:"variant"`
	Bucket         int       `json:"bucket"`
	AssignedAt     time.Time `json:"assignedAt"`
}

// Resolution is the soul version that serves a conversation right now.
type Resolution struct {
	Assignment    *Assignment `json:"assignment"`
	SoulVersionID string      `json:"soulVersionId"`
	Variant       string      `json:"variant"`
	// Stale is set when the recorded rollout has been decided and the
	// conversation now follows the agent's active version.
	Stale bool `json:"stale,omitempty"`
}

// Router assigns conversations to baseline or candidate.
type Router struct {
	store *store.Store
}

// NewRouter creates a Router over st.
func NewRouter(st *store.Store) *Router {
	return &Router{store: st}
}

func metadataKey(agentID string) string {
	return "soul:" + agentID
}

// Assign returns the conversation's assignment, computing and persisting it
// on first use. Once stored it is never recomputed, so later traffic changes
// do not move the conversation. Agents without an active soul yield
// store.ErrNotFound.
func (r *Router) Assign(ctx context.Context, agentID, conversationID string) (*Assignment, error) {
	if agentID == "" || conversationID == "" {
		return nil, store.Invalidf("agent id and conversation id are required")
	}
	if existing, err := r.stored(ctx, agentID, conversationID); err != nil || existing != nil {
		return existing, err
	}

	fresh, err := r.compute(ctx, agentID, conversationID)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(fresh)
	if err != nil {
		return nil, fmt.Errorf("encode assignment: %w", err)
	}
	effective, claimed, err := r.store.ClaimConversationMetadata(ctx, conversationID, agentID, metadataKey(agentID), raw)
	if err != nil {
		return nil, err
	}
	if claimed {
		assignmentsTotal.WithLabelValues(fresh.Variant).Inc()
		return fresh, nil
	}
	var a Assignment
	if err := json.Unmarshal(effective, &a); err != nil {
		return nil, fmt.Errorf("decode assignment: %w", err)
	}
	return &a, nil
}

// Lookup returns the stored assignment without creating one. It returns nil
// when the conversation has none.
func (r *Router) Lookup(ctx context.Context, agentID, conversationID string) (*Assignment, error) {
	return r.stored(ctx, agentID, conversationID)
}

// Resolve assigns the conversation and reports the version that serves it.
// While the recorded rollout is canary_active the assignment decides; once
// the rollout is decided, or for assignments made outside a rollout, the
// agent's active version serves.
func (r *Router) Resolve(ctx context.Context, agentID, conversationID string) (*Resolution, error) {
	a, err := r.Assign(ctx, agentID, conversationID)
	if err != nil {
		return nil, err
	}
	if a.RolloutID != "" {
		ro, err := r.store.GetRollout(ctx, a.RolloutID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		if ro != nil && ro.Status == store.RolloutCanaryActive {
			return &Resolution{Assignment: a, SoulVersionID: a.SoulVersionID, Variant: a.Variant}, nil
		}
	}
	active, err := r.store.ActiveSoulVersion(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return &Resolution{
		Assignment:    a,
		SoulVersionID: active.ID,
		Variant:       store.VariantBaseline,
		Stale:         a.RolloutID != "" || a.SoulVersionID != active.ID,
	}, nil
}

// Attribution reports the serving version for the observer. Agents without
// a soul are not attributed.
func (r *Router) Attribution(ctx context.Context, agentID, conversationID string) (string, string, error) {
	res, err := r.Resolve(ctx, agentID, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return "", "", nil
	}
	if err != nil {
		return "", "", err
	}
	return res.SoulVersionID, res.Variant, nil
}

func (r *Router) stored(ctx context.Context, agentID, conversationID string) (*Assignment, error) {
	meta, err := r.store.ConversationMetadata(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	raw, ok := meta[metadataKey(agentID)]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var a Assignment
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decode assignment for %s: %w", conversationID, err)
	}
	return &a, nil
}

func (r *Router) compute(ctx context.Context, agentID, conversationID string) (*Assignment, error) {
	bucket := Bucket(agentID, conversationID)
	a := &Assignment{
		AgentID:        agentID,
		ConversationID: conversationID,
		Bucket:         bucket,
		Variant:        store.VariantBaseline,
		AssignedAt:     r.store.Now(),
	}
	ro, err := r.store.ActiveRollout(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if ro != nil {
		a.RolloutID = ro.ID
		a.SoulVersionID = ro.BaselineVersionID
		if InCandidate(bucket, ro.TrafficPercent) {
			a.SoulVersionID = ro.CandidateVersionID
			a.Variant = store.VariantCandidate
		}
		return a, nil
	}
	active, err := r.store.ActiveSoulVersion(ctx, agentID)
	if err != nil {
		return nil, err
	}
	a.SoulVersionID = active.ID
	return a, nil
}
