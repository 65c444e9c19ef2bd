package guard

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/mitchellh/go-ps"
)

// ErrBundleRunning is returned when the bundled executable is running from a previous build.
var ErrBundleRunning = errors.New("the bundled application is running")

// ListProcesses returns a snapshot of running processes.
type ListProcesses func() ([]ps.Process, error)

// KillProcess terminates a process by PID.
type KillProcess func(pid int) error

// ExecutableName returns the bundled executable name for goos.
func ExecutableName(goos, name string) string {
	if goos == "windows" {
		return name + ".exe"
	}

	return name
}

// FindRunning returns processes whose executable is named executable, excluding this process.
// list defaults to ps.Processes.
func FindRunning(list ListProcesses, executable string) ([]ps.Process, error) {
	if list == nil {
		list = ps.Processes
	}

	processList, err := list()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	thisProcessID := os.Getpid()

	var found []ps.Process

	for _, process := range processList {
		if process.Pid() == thisProcessID {
			continue
		}

		if sameExecutable(process.Executable(), executable) {
			found = append(found, process)
		}
	}

	return found, nil
}

// Terminate kills every listed process. kill defaults to os.FindProcess + Kill.
func Terminate(processes []ps.Process, kill KillProcess) error {
	if kill == nil {
		kill = killByPID
	}

	var errs []error

	for _, process := range processes {
		if err := kill(process.Pid()); err != nil {
			errs = append(errs, fmt.Errorf("kill %s (pid %d): %w", process.Executable(), process.Pid(), err))
		}
	}

	return errors.Join(errs...)
}

// PIDs returns the process IDs for log output.
func PIDs(processes []ps.Process) []int {
	pids := make([]int, 0, len(processes))
	for _, process := range processes {
		pids = append(pids, process.Pid())
	}

	return pids
}

func killByPID(pid int) error {
	runningProcess, err := os.FindProcess(pid)
	if err != nil {
		return err
	}

	return runningProcess.Kill()
}

// linuxCommLength is the kernel limit for process names in /proc/<pid>/stat.
const linuxCommLength = 15

func sameExecutable(a, b string) bool {
	switch runtime.GOOS {
	case "windows":
		return strings.EqualFold(a, b)
	case "linux":
		if len(b) > linuxCommLength {
			b = b[:linuxCommLength]
		}

		return a == b
	default:
		return a == b
	}
}
