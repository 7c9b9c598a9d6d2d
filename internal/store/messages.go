package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"juris/internal/logging"
	"juris/internal/types"

	"github.com/google/uuid"
)

const messageColumns = "id, conversation_id, seq, role, content, status, file_ids, tokens_in, tokens_out, created_at"

// AppendMessage inserts a message at the next seq of its conversation and
// bumps the conversation's updated_at in the same transaction.
func (s *Store) AppendMessage(ctx context.Context, m *types.Message) (*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = types.MessageComplete
	}
	m.CreatedAt = s.now()
	fileIDs, err := json.Marshal(nonNil(m.FileIDs))
	if err != nil {
		return nil, fmt.Errorf("encode file ids: %w", err)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx,
			"SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?", m.ConversationID,
		).Scan(&m.Seq); err != nil {
			return fmt.Errorf("next seq: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, conversation_id, seq, role, content, status, file_ids, tokens_in, tokens_out, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.ConversationID, m.Seq, string(m.Role), m.Content, string(m.Status), string(fileIDs), m.TokensIn, m.TokensOut, m.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		_, err := tx.ExecContext(ctx, "UPDATE conversations SET updated_at = ? WHERE id = ?", m.CreatedAt, m.ConversationID)
		return err
	})
	if err != nil {
		logging.StoreError("Failed to append message to conversation=%s: %v", m.ConversationID, err)
		return nil, err
	}

	logging.StoreDebug("Appended message conversation=%s seq=%d role=%s len=%d", m.ConversationID, m.Seq, m.Role, len(m.Content))
	return m, nil
}

// ListMessages returns a conversation's messages in seq order. A positive
// lastN keeps only the most recent lastN messages.
func (s *Store) ListMessages(ctx context.Context, conversationID string, lastN int) ([]*types.Message, error) {
	timer := logging.StartTimer(logging.CategoryStore, "ListMessages")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + messageColumns + " FROM messages WHERE conversation_id = ? ORDER BY seq ASC"
	args := []interface{}{conversationID}
	if lastN > 0 {
		query = "SELECT * FROM (SELECT " + messageColumns + " FROM messages WHERE conversation_id = ? ORDER BY seq DESC LIMIT ?) ORDER BY seq ASC"
		args = append(args, lastN)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*types.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteMessagesAfter removes every message with seq > afterSeq. Used when
// an answer is regenerated.
func (s *Store) DeleteMessagesAfter(ctx context.Context, conversationID string, afterSeq int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = ? AND seq > ?", conversationID, afterSeq)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	n, _ := res.RowsAffected()
	logging.StoreDebug("Deleted %d messages after seq=%d in conversation=%s", n, afterSeq, conversationID)
	return n, nil
}

func scanMessage(r rowScanner) (*types.Message, error) {
	var m types.Message
	var role, status, fileIDs string
	if err := r.Scan(&m.ID, &m.ConversationID, &m.Seq, &role, &m.Content, &status, &fileIDs, &m.TokensIn, &m.TokensOut, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Role = types.MessageRole(role)
	m.Status = types.MessageStatus(status)
	if fileIDs != "" && fileIDs != "[]" {
		if err := json.Unmarshal([]byte(fileIDs), &m.FileIDs); err != nil {
			logging.StoreWarn("Corrupt file_ids on message %s: %v", m.ID, err)
		}
	}
	return &m, nil
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
