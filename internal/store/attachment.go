package store

// SaveAttachment records an attachment reference for a message. The binary
// payload lives outside the database; its lifecycle is independent of the
// message text.
func (db *DB) SaveAttachment(a *Attachment) error {
	_, err := db.Exec(`
		INSERT INTO attachments (chat_jid, msg_id, kind, mime_type, path, thumb_path)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_jid, msg_id) DO UPDATE SET
			kind = excluded.kind,
			mime_type = excluded.mime_type,
			path = CASE WHEN excluded.path != '' THEN excluded.path ELSE attachments.path END,
			thumb_path = CASE WHEN excluded.thumb_path != '' THEN excluded.thumb_path ELSE attachments.thumb_path END`,
		a.ChatJID, a.MsgID, a.Kind, a.MimeType, a.Path, a.ThumbPath)
	return err
}

// GetAttachment returns the attachment reference for a message, or nil.
func (db *DB) GetAttachment(chatJID, msgID string) (*Attachment, error) {
	rows, err := db.Query(`
		SELECT chat_jid, msg_id, kind, mime_type, path, thumb_path
		FROM attachments WHERE chat_jid = ? AND msg_id = ?`, chatJID, msgID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var a Attachment
	if err := rows.Scan(&a.ChatJID, &a.MsgID, &a.Kind, &a.MimeType, &a.Path, &a.ThumbPath); err != nil {
		return nil, err
	}
	return &a, nil
}
