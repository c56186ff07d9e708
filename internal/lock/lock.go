package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const lockFileName = "LOCK"

// LockHeldError reports that another daemon already owns the profile.
type LockHeldError struct {
	PID  int
	Path string
}

func (e *LockHeldError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("profile locked by PID %d (%s)", e.PID, e.Path)
	}
	return fmt.Sprintf("profile locked (%s)", e.Path)
}

// Lock is a held exclusive lock on a profile directory. The lock lives as
// long as the file descriptor, so a crashed daemon releases it without
// cleanup.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes an exclusive advisory lock on the profile directory,
// creating it if needed. It never blocks: if another process holds the
// lock it returns a LockHeldError naming the owner when known.
func Acquire(profileDir string) (*Lock, error) {
	if err := os.MkdirAll(profileDir, 0700); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	path := filepath.Join(profileDir, lockFileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		owner, _ := os.ReadFile(path)
		pid, _ := strconv.Atoi(strings.TrimSpace(string(owner)))
		_ = f.Close()
		return nil, &LockHeldError{PID: pid, Path: path}
	}

	// Record our PID for the next LockHeldError.
	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &Lock{file: f, path: path}, nil
}

// Release drops the lock and removes the lock file. Safe on a nil
// receiver and safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}
