package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.papo/config.toml.
type Config struct {
	DefaultProfile string     `toml:"default_profile"`
	Encryption     Encryption `toml:"encryption"`
}

// Encryption configures how the store key is provisioned.
type Encryption struct {
	// PassphraseFile points at a file holding the store passphrase. Empty
	// means an empty passphrase: the store is still sealed, but with a key
	// anyone can derive.
	PassphraseFile string `toml:"passphrase_file"`
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// ReadPassphrase returns the store passphrase from the configured file,
// trimmed of trailing whitespace. No file configured means an empty
// passphrase.
func (c *Config) ReadPassphrase() (string, error) {
	if c.Encryption.PassphraseFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.Encryption.PassphraseFile)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}
