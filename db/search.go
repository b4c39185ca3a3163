package db

import "fmt"

// SearchMessages performs a full-text search within a conversation.
// A conversationID of 0 searches across all conversations.
func (db *DB) SearchMessages(conversationID int64, query string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}

	sqlQuery := `SELECT m.id, m.conversation_id, m.turn, m.role, m.content, m.provider, m.model, m.attachments, m.created_at
		FROM messages_fts f
		JOIN messages m ON m.id = f.rowid
		WHERE messages_fts MATCH ?`
	args := []interface{}{query}

	if conversationID != 0 {
		sqlQuery += " AND m.conversation_id = ?"
		args = append(args, conversationID)
	}

	sqlQuery += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := db.conn.Query(sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}
