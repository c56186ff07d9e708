package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertContact inserts or updates a contact. Empty incoming names never
// clobber known ones.
func (db *DB) UpsertContact(c *Contact) error {
	box, err := db.sealer()
	if err != nil {
		return err
	}
	nameEnc, err := box.Seal(c.Name)
	if err != nil {
		return fmt.Errorf("seal name: %w", err)
	}
	pushNameEnc, err := box.Seal(c.PushName)
	if err != nil {
		return fmt.Errorf("seal push name: %w", err)
	}

	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		INSERT INTO contacts (jid, name_enc, push_name_enc, phone_number, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(jid) DO UPDATE SET
			name_enc = CASE WHEN ? != '' THEN excluded.name_enc ELSE contacts.name_enc END,
			push_name_enc = CASE WHEN ? != '' THEN excluded.push_name_enc ELSE contacts.push_name_enc END,
			phone_number = CASE WHEN excluded.phone_number != '' THEN excluded.phone_number ELSE contacts.phone_number END,
			updated_at = excluded.updated_at`,
		c.JID, nameEnc, pushNameEnc, c.PhoneNumber, now,
		c.Name, c.PushName)
	return err
}

// BulkUpsertContacts inserts or updates multiple contacts in one transaction.
func (db *DB) BulkUpsertContacts(contacts []Contact) error {
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
	for _, c := range contacts {
		nameEnc, err := box.Seal(c.Name)
		if err != nil {
			return fmt.Errorf("seal name: %w", err)
		}
		pushNameEnc, err := box.Seal(c.PushName)
		if err != nil {
			return fmt.Errorf("seal push name: %w", err)
		}
		if _, err := tx.Exec(`
			INSERT INTO contacts (jid, name_enc, push_name_enc, phone_number, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(jid) DO UPDATE SET
				name_enc = CASE WHEN ? != '' THEN excluded.name_enc ELSE contacts.name_enc END,
				push_name_enc = CASE WHEN ? != '' THEN excluded.push_name_enc ELSE contacts.push_name_enc END,
				phone_number = CASE WHEN excluded.phone_number != '' THEN excluded.phone_number ELSE contacts.phone_number END,
				updated_at = excluded.updated_at`,
			c.JID, nameEnc, pushNameEnc, c.PhoneNumber, now,
			c.Name, c.PushName); err != nil {
			return fmt.Errorf("upsert contact %q: %w", c.JID, err)
		}
	}
	return tx.Commit()
}

// GetContact returns a contact by JID, or nil if absent.
func (db *DB) GetContact(jid string) (*Contact, error) {
	box, err := db.sealer()
	if err != nil {
		return nil, err
	}
	var c Contact
	var nameEnc, pushNameEnc []byte
	err = db.QueryRow(`SELECT jid, name_enc, push_name_enc, phone_number FROM contacts WHERE jid = ?`, jid).
		Scan(&c.JID, &nameEnc, &pushNameEnc, &c.PhoneNumber)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if c.Name, err = box.Open(nameEnc); err != nil {
		return nil, err
	}
	if c.PushName, err = box.Open(pushNameEnc); err != nil {
		return nil, err
	}
	return &c, nil
}

// SearchContacts returns contacts whose name, push name, or JID contains the
// query (case-insensitive). Names are sealed at rest, so matching happens
// after decryption rather than in SQL.
func (db *DB) SearchContacts(query string, limit int) ([]Contact, error) {
	box, err := db.sealer()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.Query(`SELECT jid, name_enc, push_name_enc, phone_number FROM contacts`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var matches []Contact
	for rows.Next() {
		var c Contact
		var nameEnc, pushNameEnc []byte
		if err := rows.Scan(&c.JID, &nameEnc, &pushNameEnc, &c.PhoneNumber); err != nil {
			return nil, err
		}
		if c.Name, err = box.Open(nameEnc); err != nil {
			return nil, err
		}
		if c.PushName, err = box.Open(pushNameEnc); err != nil {
			return nil, err
		}
		if containsFold(c.Name, query) || containsFold(c.PushName, query) || containsFold(c.JID, query) {
			matches = append(matches, c)
			if len(matches) >= limit {
				break
			}
		}
	}
	return matches, rows.Err()
}
