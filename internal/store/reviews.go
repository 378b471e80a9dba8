package store

import (
	"context"
	"fmt"
	"strings"
)

// RecordReview stores a human verdict on one turn.
func (s *Store) RecordReview(ctx context.Context, r *Review) (*Review, error) {
	if r == nil {
		return nil, Invalidf("review is required")
	}
	if strings.TrimSpace(r.ConversationID) == "" {
		return nil, Invalidf("conversation id is required")
	}
	if r.Verdict != VerdictApprove && r.Verdict != VerdictReject {
		return nil, Invalidf("invalid review verdict %q", r.Verdict)
	}
	out := *r
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = s.Now()
	_, err := s.db.ExecContext(ctx, `INSERT INTO turn_reviews
		(id, conversation_id, message_id, agent_id, soul_version_id, variant, verdict, reviewer, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		out.ID, out.ConversationID, out.MessageID, out.AgentID, out.SoulVersionID, out.Variant,
		out.Verdict, out.Reviewer, out.Note, formatTime(out.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("record review: %w", err)
	}
	return &out, nil
}
