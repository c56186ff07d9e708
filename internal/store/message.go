package store

import (
	"fmt"
	"time"
)

// insertMessageSQL is shared by the single and batched append paths.
// Content is immutable on conflict, and status never regresses: a
// re-delivered copy of a message already marked read or delivered keeps
// the stored status unless the copy upgrades it.
const insertMessageSQL = `
	INSERT INTO messages (chat_jid, msg_id, sender_jid, sender_name_enc, body_enc, kind, from_me, status, timestamp, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(chat_jid, msg_id) DO UPDATE SET
		status = CASE
			WHEN messages.status = 'read' THEN messages.status
			WHEN messages.status = 'delivered' AND excluded.status <> 'read' THEN messages.status
			ELSE excluded.status
		END`

// AppendMessage inserts a message (idempotent on chat_jid + msg_id).
// Content is immutable: re-appending an already-stored identifier only
// merges the status field, and only forward.
func (db *DB) AppendMessage(m *Message) error {
	box, err := db.sealer()
	if err != nil {
		return err
	}
	bodyEnc, err := box.Seal(m.Body)
	if err != nil {
		return fmt.Errorf("seal body: %w", err)
	}
	senderNameEnc, err := box.Seal(m.SenderName)
	if err != nil {
		return fmt.Errorf("seal sender name: %w", err)
	}

	now := time.Now().UnixMilli()
	_, err = db.Exec(insertMessageSQL,
		m.ChatJID, m.MsgID, m.SenderJID, senderNameEnc, bodyEnc, m.Kind, m.FromMe, m.Status, m.Timestamp, now)
	return err
}

// AppendMessages inserts a batch of messages in one transaction, preserving
// slice order. Used for history-sync batches; each row is idempotent the
// same way AppendMessage is.
func (db *DB) AppendMessages(msgs []*Message) error {
	box, err := db.sealer()
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		bodyEnc, err := box.Seal(m.Body)
		if err != nil {
			return fmt.Errorf("seal body: %w", err)
		}
		senderNameEnc, err := box.Seal(m.SenderName)
		if err != nil {
			return fmt.Errorf("seal sender name: %w", err)
		}
		if _, err := tx.Exec(insertMessageSQL,
			m.ChatJID, m.MsgID, m.SenderJID, senderNameEnc, bodyEnc, m.Kind, m.FromMe, m.Status, m.Timestamp, now); err != nil {
			return fmt.Errorf("append message %q: %w", m.MsgID, err)
		}
	}
	return tx.Commit()
}

// UpdateStatus sets the delivery/read status of the given messages.
func (db *DB) UpdateStatus(chatJID string, msgIDs []string, status string) error {
	if len(msgIDs) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range msgIDs {
		if _, err := tx.Exec(`UPDATE messages SET status = ? WHERE chat_jid = ? AND msg_id = ?`,
			status, chatJID, id); err != nil {
			return fmt.Errorf("update status %q: %w", id, err)
		}
	}
	return tx.Commit()
}

// QueryRange returns up to limit messages on one side of the anchor in the
// conversation's total order (timestamp, msg_id). Results are always in
// ascending order regardless of direction. A zero anchor means "from the
// newest end" for Before and "from the oldest end" for After.
func (db *DB) QueryRange(chatJID string, anchor Cursor, dir Direction, limit int) ([]Message, error) {
	box, err := db.sealer()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	const cols = `id, chat_jid, msg_id, sender_jid, sender_name_enc, body_enc, kind, from_me, status, timestamp`

	var q string
	var args []any
	switch dir {
	case Before:
		if anchor.IsZero() {
			q = `SELECT ` + cols + ` FROM messages WHERE chat_jid = ?
				ORDER BY timestamp DESC, msg_id DESC LIMIT ?`
			args = []any{chatJID, limit}
		} else {
			q = `SELECT ` + cols + ` FROM messages
				WHERE chat_jid = ? AND (timestamp < ? OR (timestamp = ? AND msg_id < ?))
				ORDER BY timestamp DESC, msg_id DESC LIMIT ?`
			args = []any{chatJID, anchor.Timestamp, anchor.Timestamp, anchor.MsgID, limit}
		}
	case After:
		if anchor.IsZero() {
			q = `SELECT ` + cols + ` FROM messages WHERE chat_jid = ?
				ORDER BY timestamp ASC, msg_id ASC LIMIT ?`
			args = []any{chatJID, limit}
		} else {
			q = `SELECT ` + cols + ` FROM messages
				WHERE chat_jid = ? AND (timestamp > ? OR (timestamp = ? AND msg_id > ?))
				ORDER BY timestamp ASC, msg_id ASC LIMIT ?`
			args = []any{chatJID, anchor.Timestamp, anchor.Timestamp, anchor.MsgID, limit}
		}
	default:
		return nil, fmt.Errorf("unknown direction %d", dir)
	}

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows, box)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Before queries scan newest-first; flip back to ascending.
	if dir == Before {
		for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
	}
	return msgs, nil
}

// GetMessage returns a single message by identifier, or nil if absent.
func (db *DB) GetMessage(chatJID, msgID string) (*Message, error) {
	box, err := db.sealer()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(`
		SELECT id, chat_jid, msg_id, sender_jid, sender_name_enc, body_enc, kind, from_me, status, timestamp
		FROM messages WHERE chat_jid = ? AND msg_id = ?`, chatJID, msgID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanMessage(rows, box)
}

// rowScanner is satisfied by both *sql.Rows and *sql.Row.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner, box *secretBox) (*Message, error) {
	var m Message
	var senderNameEnc, bodyEnc []byte
	if err := row.Scan(&m.ID, &m.ChatJID, &m.MsgID, &m.SenderJID, &senderNameEnc, &bodyEnc,
		&m.Kind, &m.FromMe, &m.Status, &m.Timestamp); err != nil {
		return nil, err
	}
	var err error
	if m.SenderName, err = box.Open(senderNameEnc); err != nil {
		return nil, err
	}
	if m.Body, err = box.Open(bodyEnc); err != nil {
		return nil, err
	}
	return &m, nil
}

// UnreadMessage identifies one inbound message that has not been read yet.
type UnreadMessage struct {
	MsgID     string
	SenderJID string
}

// UnreadInbound lists inbound messages in a conversation that still need a
// read receipt, oldest first.
func (db *DB) UnreadInbound(chatJID string) ([]UnreadMessage, error) {
	rows, err := db.Query(`
		SELECT msg_id, sender_jid FROM messages
		WHERE chat_jid = ? AND from_me = 0 AND status != 'read'
		ORDER BY timestamp ASC, msg_id ASC
	`, chatJID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UnreadMessage
	for rows.Next() {
		var um UnreadMessage
		if err := rows.Scan(&um.MsgID, &um.SenderJID); err != nil {
			return nil, err
		}
		out = append(out, um)
	}
	return out, rows.Err()
}

// MessageCount returns the total number of messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
