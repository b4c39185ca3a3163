package db

import (
	"database/sql"
	"fmt"
	"time"
)

const messageColumns = "id, conversation_id, turn, role, content, provider, model, attachments, created_at"

// CreateMessage creates a new message in a conversation. The write is
// atomic; callers needing multi-message consistency sequence their calls.
func (db *DB) CreateMessage(conversationID, turn int64, role, content, provider, model, attachments string) (*Message, error) {
	now := time.Now()
	result, err := db.conn.Exec(
		"INSERT INTO messages (conversation_id, turn, role, content, provider, model, attachments, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		conversationID, turn, role, content, provider, model, attachments, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get message ID: %w", err)
	}

	if err := db.TouchConversation(conversationID); err != nil {
		return nil, err
	}

	return &Message{
		ID:             id,
		ConversationID: conversationID,
		Turn:           turn,
		Role:           role,
		Content:        content,
		Provider:       provider,
		Model:          model,
		Attachments:    attachments,
		CreatedAt:      now,
	}, nil
}

// GetMessage retrieves a message by ID
func (db *DB) GetMessage(id int64) (*Message, error) {
	var msg Message
	err := db.conn.QueryRow(
		"SELECT "+messageColumns+" FROM messages WHERE id = ?",
		id,
	).Scan(&msg.ID, &msg.ConversationID, &msg.Turn, &msg.Role, &msg.Content, &msg.Provider, &msg.Model, &msg.Attachments, &msg.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("message not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return &msg, nil
}

// ListMessages retrieves all messages in a conversation in insertion order
func (db *DB) ListMessages(conversationID int64) ([]*Message, error) {
	rows, err := db.conn.Query(
		"SELECT "+messageColumns+" FROM messages WHERE conversation_id = ? ORDER BY turn ASC, id ASC",
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// FindTurnMessage returns the assistant message a model produced for a
// given turn, or nil when the model has not been persisted for that turn.
func (db *DB) FindTurnMessage(conversationID, turn int64, model string) (*Message, error) {
	var msg Message
	err := db.conn.QueryRow(
		"SELECT "+messageColumns+" FROM messages WHERE conversation_id = ? AND turn = ? AND role = 'assistant' AND model = ?",
		conversationID, turn, model,
	).Scan(&msg.ID, &msg.ConversationID, &msg.Turn, &msg.Role, &msg.Content, &msg.Provider, &msg.Model, &msg.Attachments, &msg.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find turn message: %w", err)
	}

	return &msg, nil
}

// NextTurn returns the turn number the next user prompt should use
func (db *DB) NextTurn(conversationID int64) (int64, error) {
	var maxTurn sql.NullInt64
	err := db.conn.QueryRow(
		"SELECT MAX(turn) FROM messages WHERE conversation_id = ?",
		conversationID,
	).Scan(&maxTurn)
	if err != nil {
		return 0, fmt.Errorf("failed to compute next turn: %w", err)
	}
	if !maxTurn.Valid {
		return 1, nil
	}
	return maxTurn.Int64 + 1, nil
}

// DeleteMessage deletes a message
func (db *DB) DeleteMessage(id int64) error {
	_, err := db.conn.Exec("DELETE FROM messages WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

func scanMessages(rows *sql.Rows) ([]*Message, error) {
	var messages []*Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Turn, &msg.Role, &msg.Content, &msg.Provider, &msg.Model, &msg.Attachments, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}
