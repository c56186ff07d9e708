package store

import (
	"database/sql"
	"time"
)

// Watermark returns the newest durably-stored cursor for a conversation.
// The second return value is false when no watermark has been recorded yet.
func (db *DB) Watermark(chatJID string) (Cursor, bool, error) {
	var c Cursor
	err := db.QueryRow(`SELECT timestamp, msg_id FROM watermarks WHERE chat_jid = ?`, chatJID).
		Scan(&c.Timestamp, &c.MsgID)
	if err == sql.ErrNoRows {
		return Cursor{}, false, nil
	}
	if err != nil {
		return Cursor{}, false, err
	}
	return c, true, nil
}

// SetWatermark advances a conversation's durable watermark. The watermark
// is monotonic: a cursor at or below the stored one is a no-op, so resync
// after reconnect can replay old events without moving it backwards.
func (db *DB) SetWatermark(chatJID string, c Cursor) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO watermarks (chat_jid, timestamp, msg_id, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chat_jid) DO UPDATE SET
			timestamp = excluded.timestamp,
			msg_id = excluded.msg_id,
			updated_at = excluded.updated_at
		WHERE excluded.timestamp > watermarks.timestamp
			OR (excluded.timestamp = watermarks.timestamp AND excluded.msg_id > watermarks.msg_id)`,
		chatJID, c.Timestamp, c.MsgID, now)
	return err
}
