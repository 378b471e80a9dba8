//go:build windows

package scheduler

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// staleLockAge is how old a lock file may get before it is assumed to belong
// to a scheduler that died without unlocking. A tick never runs that long.
const staleLockAge = 10 * time.Minute

// FileLock is a cross-process tick lock built on exclusive file creation.
// The file holds the owner's pid and is removed on Unlock.
type FileLock struct {
	path   string
	locked bool
}

// NewFileLock returns an unlocked FileLock for path.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// TryLock reports false without error when another process holds the lock.
func (l *FileLock) TryLock() (bool, error) {
	if l.locked {
		return false, fmt.Errorf("scheduler lock %s already held by this process", l.path)
	}
	ok, err := l.create()
	if ok || err != nil {
		return ok, err
	}
	info, statErr := os.Stat(l.path)
	if statErr != nil || time.Since(info.ModTime()) < staleLockAge {
		return false, nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("remove stale scheduler lock: %w", err)
	}
	return l.create()
}

func (l *FileLock) create() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create scheduler lock: %w", err)
	}
	_, werr := f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(l.path)
		return false, fmt.Errorf("write scheduler lock: %w", werr)
	}
	l.locked = true
	return true, nil
}

// Unlock removes the lock file. It is a no-op when the lock is not held.
func (l *FileLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("release scheduler lock: %w", err)
	}
	return nil
}
