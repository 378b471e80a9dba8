package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EnsureConversation creates the conversation row if it does not exist and
// fills in the agent id when it was previously unknown.
func (s *Store) EnsureConversation(ctx context.Context, conversationID, agentID string) error {
	if strings.TrimSpace(conversationID) == "" {
		return Invalidf("conversation id is required")
	}
	now := s.stamp()
	_, err := s.db.ExecContext(ctx, `INSERT INTO conversations (id, agent_id, metadata, created_at, updated_at)
		VALUES (?, ?, '{}', ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			agent_id = CASE WHEN conversations.agent_id = '' THEN excluded.agent_id ELSE conversations.agent_id END,
			updated_at = excluded.updated_at`,
		conversationID, agentID, now, now)
	if err != nil {
		return fmt.Errorf("ensure conversation %s: %w", conversationID, err)
	}
	return nil
}

// AppendMessage stores one message, creating the conversation if needed.
func (s *Store) AppendMessage(ctx context.Context, agentID string, m *Message) (*Message, error) {
	if m == nil {
		return nil, Invalidf("message is required")
	}
	switch m.Role {
	case "user", "assistant", "system", "tool":
	default:
		return nil, Invalidf("invalid message role %q", m.Role)
	}
	if err := s.EnsureConversation(ctx, m.ConversationID, agentID); err != nil {
		return nil, err
	}
	out := *m
	if out.ID == "" {
		out.ID = newID()
	}
	out.CreatedAt = s.Now()
	_, err := s.db.ExecContext(ctx, `INSERT INTO messages
		(id, conversation_id, role, content, tool_calls, tool_results, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		out.ID, out.ConversationID, out.Role, out.Content, rawOrEmpty(out.ToolCalls),
		rawOrEmpty(out.ToolResults), formatTime(out.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("append message: %w", err)
	}
	return &out, nil
}

// LatestUserMessage returns the most recent user message content of a
// conversation, or ErrNotFound when it has none.
func (s *Store) LatestUserMessage(ctx context.Context, conversationID string) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx, `SELECT content FROM messages
		WHERE conversation_id = ? AND role = 'user'
		ORDER BY created_at DESC, rowid DESC LIMIT 1`, conversationID).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("latest user message: %w", err)
	}
	return content, nil
}

// MessageToolPayload returns the tool calls and results attached to a message.
func (s *Store) MessageToolPayload(ctx context.Context, messageID string) (json.RawMessage, json.RawMessage, error) {
	var calls, results string
	err := s.db.QueryRowContext(ctx, `SELECT tool_calls, tool_results FROM messages WHERE id = ?`,
		messageID).Scan(&calls, &results)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("message tool payload: %w", err)
	}
	return json.RawMessage(calls), json.RawMessage(results), nil
}

// ListMessages returns a conversation's messages in order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, conversation_id, role, content, tool_calls, tool_results, created_at
		FROM messages WHERE conversation_id = ? ORDER BY created_at, rowid`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		var calls, results, createdAt string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &calls, &results, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ToolCalls = json.RawMessage(calls)
		m.ToolResults = json.RawMessage(results)
		m.CreatedAt = parseTime(createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ConversationMetadata returns the decoded metadata map of a conversation.
func (s *Store) ConversationMetadata(ctx context.Context, conversationID string) (map[string]json.RawMessage, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT metadata FROM conversations WHERE id = ?`, conversationID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conversation metadata: %w", err)
	}
	return decodeMetadata(raw), nil
}

// ClaimConversationMetadata stores value under key unless the key already
// holds a value. It returns the value in effect afterwards and whether this
// call wrote it. First writer wins.
func (s *Store) ClaimConversationMetadata(ctx context.Context, conversationID, agentID, key string, value json.RawMessage) (json.RawMessage, bool, error) {
	if err := s.EnsureConversation(ctx, conversationID, agentID); err != nil {
		return nil, false, err
	}
	var (
		effective json.RawMessage
		claimed   bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var raw string
		if err := tx.QueryRowContext(ctx, `SELECT metadata FROM conversations WHERE id = ?`,
			conversationID).Scan(&raw); err != nil {
			return fmt.Errorf("load conversation metadata: %w", err)
		}
		meta := decodeMetadata(raw)
		if existing, ok := meta[key]; ok && len(existing) > 0 {
			effective = existing
			return nil
		}
		meta[key] = value
		encoded, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("encode conversation metadata: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE conversations SET metadata = ?, updated_at = ? WHERE id = ?`,
			string(encoded), s.stamp(), conversationID); err != nil {
			return fmt.Errorf("update conversation metadata: %w", err)
		}
		effective = value
		claimed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return effective, claimed, nil
}

func decodeMetadata(raw string) map[string]json.RawMessage {
	meta := map[string]json.RawMessage{}
	if strings.TrimSpace(raw) != "" {
		_ = json.Unmarshal([]byte(raw), &meta)
	}
	if meta == nil {
		meta = map[string]json.RawMessage{}
	}
	return meta
}
