// Package lockfile guards against two bot processes trading the same
// account. The lock is a file holding the owner's PID; a lock whose owner
// is no longer running is treated as stale and reclaimed.
package lockfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"tradepilot/internal/ports"
)

// Lock represents an acquired instance lock.
type Lock struct {
	path   string
	logger ports.Logger
}

// Acquire takes the instance lock at path, reclaiming it when the previous
// owner is dead. Returns ports.ErrAlreadyRunning when another live process
// holds it.
func Acquire(path string, logger ports.Logger) (*Lock, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for lock file")
	}
	if path == "" {
		return nil, fmt.Errorf("lock file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	if pid, ok := readOwner(path); ok {
		if processAlive(pid) {
			return nil, fmt.Errorf("lock file %s held by running process %d: %w", path, pid, ports.ErrAlreadyRunning)
		}
		logger.Warn(context.Background(), "Removing stale lock file", map[string]interface{}{"path": path, "stalePid": pid})
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove stale lock file: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("lock file %s claimed concurrently: %w", path, ports.ErrAlreadyRunning)
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}

	logger.Debug(context.Background(), "Instance lock acquired", map[string]interface{}{"path": path, "pid": os.Getpid()})
	return &Lock{path: path, logger: logger}, nil
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to release lock file: %w", err)
	}
	l.logger.Debug(context.Background(), "Instance lock released", map[string]interface{}{"path": l.path})
	return nil
}

// readOwner returns the PID stored in the lock file. Unreadable or garbage
// content counts as an owner that is not running.
func readOwner(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		// Garbage content; report a dead owner so the lock is reclaimed.
		return 0, true
	}
	return pid, true
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
