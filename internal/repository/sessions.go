package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/b0ase/kintsugi/internal/domain"
)

// LoadSession retrieves a session and its full message history.
func (s *SQLiteStore) LoadSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var session domain.Session
	var participants string
	var contractID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, participants, status, contract_id, created_at, updated_at FROM sessions WHERE session_id = ?`,
		sessionID).Scan(&session.SessionID, &participants, &session.Status, &contractID, &session.CreatedAt, &session.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(sql.NullString{String: participants, Valid: true}, &session.Participants); err != nil {
		return nil, fmt.Errorf("failed to decode participants: %w", err)
	}
	session.ContractID = contractID.String

	messages, err := s.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	session.Messages = messages
	return &session, nil
}

// SaveSession upserts the session row and appends the messages that are
// not yet persisted. Message history is append-only: a session whose stored
// history is longer than the given one is rejected.
func (s *SQLiteStore) SaveSession(ctx context.Context, session *domain.Session) error {
	participants, err := marshalJSON(session.Participants)
	if err != nil {
		return fmt.Errorf("failed to encode participants: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (session_id, participants, status, contract_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET
				participants = excluded.participants,
				status = excluded.status,
				contract_id = excluded.contract_id,
				updated_at = excluded.updated_at`,
			session.SessionID, participants, session.Status, nullString(session.ContractID), session.CreatedAt, session.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to save session: %w", err)
		}

		var stored int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM messages WHERE session_id = ?`, session.SessionID).Scan(&stored); err != nil {
			return fmt.Errorf("failed to count messages: %w", err)
		}
		if stored > len(session.Messages) {
			return fmt.Errorf("session %s has %d stored messages but only %d given", session.SessionID, stored, len(session.Messages))
		}

		for seq := stored; seq < len(session.Messages); seq++ {
			msg := session.Messages[seq]
			var toolCalls sql.NullString
			if len(msg.ToolCalls) > 0 {
				encoded, err := marshalJSON(msg.ToolCalls)
				if err != nil {
					return fmt.Errorf("failed to encode tool calls: %w", err)
				}
				toolCalls = nullString(encoded)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO messages (session_id, seq, role, content, reasoning, tool_calls, tool_call_id, sender_id, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				session.SessionID, seq, msg.Role, msg.Content, nullString(msg.Reasoning), toolCalls,
				nullString(msg.ToolCallID), nullString(msg.SenderID), msg.CreatedAt); err != nil {
				return fmt.Errorf("failed to append message %d: %w", seq, err)
			}
		}
		return nil
	})
}

// ListMessages returns a session's messages in order.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, reasoning, tool_calls, tool_call_id, sender_id, created_at
		FROM messages WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var msg domain.Message
		var reasoning, toolCalls, toolCallID, senderID sql.NullString
		if err := rows.Scan(&msg.Role, &msg.Content, &reasoning, &toolCalls, &toolCallID, &senderID, &msg.CreatedAt); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(toolCalls, &msg.ToolCalls); err != nil {
			return nil, fmt.Errorf("failed to decode tool calls: %w", err)
		}
		msg.Reasoning = reasoning.String
		msg.ToolCallID = toolCallID.String
		msg.SenderID = senderID.String
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
