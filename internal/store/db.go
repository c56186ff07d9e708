package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection for the app-owned papo.db. Record payloads
// (message bodies, conversation and contact names) are sealed with a key
// derived from the profile passphrase; the database must be unlocked with
// Unlock before any payload-carrying operation.
type DB struct {
	*sql.DB
	box *secretBox
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{DB: db}, nil
}

// Unlock derives the payload key from the passphrase and verifies it against
// the key-check row written when the database was created. A fresh database
// stores a new salt and verifier; an existing database with a non-matching
// key fails with *DecryptionError. Must be called after Migrate.
//
// An empty passphrase is accepted: key provisioning is external configuration
// and absent material still derives a (weak) key rather than disabling
// sealing, so a later mismatch is always detected.
func (db *DB) Unlock(passphrase string) error {
	var salt, verifier []byte
	err := db.QueryRow(`SELECT salt, verifier FROM crypto_state WHERE id = 1`).Scan(&salt, &verifier)
	switch {
	case err == sql.ErrNoRows:
		salt, err = newSalt()
		if err != nil {
			return err
		}
		box, err := newSecretBox(passphrase, salt)
		if err != nil {
			return err
		}
		verifier, err = box.Seal(keyCheckPlaintext)
		if err != nil {
			return err
		}
		if _, err := db.Exec(`INSERT INTO crypto_state (id, salt, verifier) VALUES (1, ?, ?)`, salt, verifier); err != nil {
			return fmt.Errorf("write crypto state: %w", err)
		}
		db.box = box
		return nil
	case err != nil:
		return fmt.Errorf("read crypto state: %w", err)
	}

	box, err := newSecretBox(passphrase, salt)
	if err != nil {
		return err
	}
	check, err := box.Open(verifier)
	if err != nil {
		return &DecryptionError{Reason: "key does not match this database", Err: err}
	}
	if check != keyCheckPlaintext {
		return &DecryptionError{Reason: "key-check mismatch"}
	}
	db.box = box
	return nil
}

// sealer returns the payload box or a DecryptionError if the store was
// never unlocked.
func (db *DB) sealer() (*secretBox, error) {
	if db.box == nil {
		return nil, &DecryptionError{Reason: "store is locked (no key)"}
	}
	return db.box, nil
}
