package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertConversation inserts or updates a conversation record. Name and
// flags are merged; last_activity only ever moves forward.
func (db *DB) UpsertConversation(c *Conversation) error {
	box, err := db.sealer()
	if err != nil {
		return err
	}
	nameEnc, err := box.Seal(c.Name)
	if err != nil {
		return fmt.Errorf("seal name: %w", err)
	}

	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		INSERT INTO conversations (jid, name_enc, is_group, muted, pinned, archived, unread_count, last_activity, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(jid) DO UPDATE SET
			name_enc = CASE WHEN ? != '' THEN excluded.name_enc ELSE conversations.name_enc END,
			is_group = excluded.is_group,
			muted = excluded.muted,
			pinned = excluded.pinned,
			archived = excluded.archived,
			last_activity = MAX(conversations.last_activity, excluded.last_activity),
			updated_at = excluded.updated_at`,
		c.JID, nameEnc, c.IsGroup, c.Muted, c.Pinned, c.Archived, c.UnreadCount, c.LastActivity, now,
		c.Name)
	return err
}

// IncrementUnread bumps the unread counter for an inbound message.
func (db *DB) IncrementUnread(jid string) error {
	_, err := db.Exec(`UPDATE conversations SET unread_count = unread_count + 1 WHERE jid = ?`, jid)
	return err
}

// SetUnreadCount sets the unread counter to an absolute value, used when a
// history sync reports the authoritative count.
func (db *DB) SetUnreadCount(jid string, count int) error {
	_, err := db.Exec(`UPDATE conversations SET unread_count = ? WHERE jid = ?`, count, jid)
	return err
}

// GetConversation returns a single conversation by JID, or nil if absent.
func (db *DB) GetConversation(jid string) (*Conversation, error) {
	box, err := db.sealer()
	if err != nil {
		return nil, err
	}
	var c Conversation
	var nameEnc []byte
	err = db.QueryRow(`
		SELECT jid, name_enc, is_group, muted, pinned, archived, unread_count, last_activity
		FROM conversations WHERE jid = ?`, jid).
		Scan(&c.JID, &nameEnc, &c.IsGroup, &c.Muted, &c.Pinned, &c.Archived, &c.UnreadCount, &c.LastActivity)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if c.Name, err = box.Open(nameEnc); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConversations returns conversations ordered for listing: pinned first,
// then most recent activity. Archived conversations are excluded.
func (db *DB) ListConversations(limit, offset int) ([]Conversation, error) {
	box, err := db.sealer()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT jid, name_enc, is_group, muted, pinned, archived, unread_count, last_activity
		FROM conversations
		WHERE archived = 0
		ORDER BY pinned DESC, last_activity DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		var nameEnc []byte
		if err := rows.Scan(&c.JID, &nameEnc, &c.IsGroup, &c.Muted, &c.Pinned, &c.Archived, &c.UnreadCount, &c.LastActivity); err != nil {
			return nil, err
		}
		if c.Name, err = box.Open(nameEnc); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// MarkConversationRead flags every inbound message in the conversation as
// read and resets the unread counter.
func (db *DB) MarkConversationRead(jid string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		UPDATE messages SET status = 'read'
		WHERE chat_jid = ? AND from_me = 0 AND status != 'read'`, jid); err != nil {
		return fmt.Errorf("mark messages read: %w", err)
	}
	if _, err := tx.Exec(`UPDATE conversations SET unread_count = 0 WHERE jid = ?`, jid); err != nil {
		return fmt.Errorf("reset unread count: %w", err)
	}
	return tx.Commit()
}

// ConversationCount returns the total number of conversations.
func (db *DB) ConversationCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&count)
	return count, err
}
