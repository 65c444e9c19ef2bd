package guard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/go-ps"
)

// lockFileMode is the permission of lock files.
const lockFileMode os.FileMode = 0o600

// ErrAlreadyRunning is returned when another live run holds the lock.
var ErrAlreadyRunning = errors.New("another packaging run is in progress")

// FindProcess looks a process up by PID; it returns nil when none exists.
type FindProcess func(pid int) (ps.Process, error)

// Lock is a held packaging lock.
type Lock struct {
	path string
}

// LockPath returns the lock location for a target inside workDir.
func LockPath(workDir, name string) string {
	return filepath.Join(workDir, ".distpack-"+name+".lock")
}

// Acquire takes the lock at path. A lock whose owner is gone is reclaimed.
// find defaults to ps.FindProcess.
func Acquire(path string, find FindProcess) (*Lock, error) {
	if find == nil {
		find = ps.FindProcess
	}

	for i := 0; i < 2; i++ {
		file, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_EXCL|os.O_WRONLY, lockFileMode)
		if err == nil {
			_, err = file.WriteString(strconv.Itoa(os.Getpid()))

			closeErr := file.Close()
			if err = errors.Join(err, closeErr); err != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("write lock: %w", err)
			}

			return &Lock{path: path}, nil
		}

		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create lock: %w", err)
		}

		owner, alive := lockOwner(path, find)
		if alive {
			return nil, fmt.Errorf("%w (pid %d, lock %s)", ErrAlreadyRunning, owner, path)
		}

		if err = os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale lock: %w", err)
		}
	}

	return nil, fmt.Errorf("%w (lock %s)", ErrAlreadyRunning, path)
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}

	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("release lock: %w", err)
	}

	return nil
}

// lockOwner reads the PID stored in the lock and reports whether it is alive.
// An unreadable lock counts as stale.
func lockOwner(path string, find FindProcess) (int, bool) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err != nil || pid <= 0 || pid == os.Getpid() {
		return pid, false
	}

	process, err := find(pid)
	if err != nil {
		// Cannot tell; keep the lock rather than race a live run.
		return pid, true
	}

	return pid, process != nil
}
