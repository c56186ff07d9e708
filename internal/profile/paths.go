package profile

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.papo.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".papo")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// LockPath returns the lock file path for a profile.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// EnginePath returns the protocol engine's credential database path,
// creating the profile directory if needed.
func EnginePath(name string) (string, error) {
	if err := EnsureDir(name); err != nil {
		return "", err
	}
	return filepath.Join(Dir(name), "engine.db"), nil
}

// StorePath returns the app-owned papo.db path, creating the profile
// directory if needed.
func StorePath(name string) (string, error) {
	if err := EnsureDir(name); err != nil {
		return "", err
	}
	return filepath.Join(Dir(name), "papo.db"), nil
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "papod.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
