package guard

import (
	"errors"
	"math"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/mitchellh/go-ps"
	"github.com/shirou/gopsutil/v3/process"
)

var errInvalidPID = errors.New("invalid pid")

// ExecutablePath resolves the full path of a running process's executable.
type ExecutablePath func(pid int) (string, error)

// ProcessExecutable reads the executable path of pid from the process table.
func ProcessExecutable(pid int) (string, error) {
	if pid < 0 || pid > math.MaxInt32 {
		return "", errInvalidPID
	}

	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return "", err
	}

	return proc.Exe()
}

// InDir keeps the processes whose executable lives below dir.
// Processes whose path cannot be read are left out: a copy started from the
// bundle belongs to the current user and is always readable.
// exePath defaults to ProcessExecutable.
func InDir(processes []ps.Process, dir string, exePath ExecutablePath) []ps.Process {
	if exePath == nil {
		exePath = ProcessExecutable
	}

	root := canonicalPath(dir)

	var inside []ps.Process

	for _, proc := range processes {
		path, err := exePath(proc.Pid())
		if err != nil || path == "" {
			continue
		}

		if isBelow(root, canonicalPath(path)) {
			inside = append(inside, proc)
		}
	}

	return inside
}

func canonicalPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}

	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		p = resolved
	}

	return filepath.Clean(p)
}

func isBelow(root, path string) bool {
	if runtime.GOOS == "windows" {
		root = strings.ToLower(root)
		path = strings.ToLower(path)
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}

	return rel != "." && filepath.IsLocal(rel)
}
