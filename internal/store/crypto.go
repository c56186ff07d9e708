package store

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// DecryptionError indicates the database key is absent or does not match
// the key the database was created with. It is distinct from I/O errors:
// callers must treat it as fatal for this store instance, never retry it.
type DecryptionError struct {
	Reason string
	Err    error
}

func (e *DecryptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("store decryption failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("store decryption failed: %s", e.Reason)
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// keyCheckPlaintext is sealed at database creation and opened on every
// unlock to verify the derived key matches.
const keyCheckPlaintext = "papo/key-check/v1"

const saltSize = 16

// argon2id parameters for passphrase-to-key derivation.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// secretBox seals and opens record payloads with XChaCha20-Poly1305.
type secretBox struct {
	aead cipher.AEAD
}

func newSecretBox(passphrase string, salt []byte) (*secretBox, error) {
	key := argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	return &secretBox{aead: aead}, nil
}

// Seal encrypts plaintext and returns nonce||ciphertext.
func (b *secretBox) Seal(plaintext string) ([]byte, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return b.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Open decrypts a nonce||ciphertext blob produced by Seal.
func (b *secretBox) Open(blob []byte) (string, error) {
	ns := b.aead.NonceSize()
	if len(blob) < ns {
		return "", &DecryptionError{Reason: "sealed payload too short"}
	}
	plaintext, err := b.aead.Open(nil, blob[:ns], blob[ns:], nil)
	if err != nil {
		return "", &DecryptionError{Reason: "payload authentication failed", Err: err}
	}
	return string(plaintext), nil
}

func newSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}
