package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

// Command is a single external invocation.
type Command struct {
	// Name is the executable, looked up in PATH when it has no separator.
	Name string
	// Args are passed verbatim.
	Args []string
	// Dir is the working directory of the child. Empty means the current one.
	Dir string
	// Env is added on top of the inherited environment for this child only.
	Env map[string]string
}

// String renders the command line for logs.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, quote(c.Name))

	for _, arg := range c.Args {
		parts = append(parts, quote(arg))
	}

	return strings.Join(parts, " ")
}

// Result is the observed outcome of a finished command.
type Result struct {
	// ExitCode is the process exit status; 0 means success.
	ExitCode int
	// Stdout is the captured standard output.
	Stdout []byte
	// Stderr is the captured standard error.
	Stderr []byte
}

// Runner executes commands.
type Runner interface {
	// Run blocks until the command exits. The error is reserved for commands
	// that could not be started or were cancelled; exit statuses go to Result.
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// Output receives a live copy of stdout and stderr when set.
	Output io.Writer
}

// NewExecRunner creates a runner that mirrors tool output to w (nil disables mirroring).
func NewExecRunner(w io.Writer) *ExecRunner {
	return &ExecRunner{Output: w}
}

var errEmptyCommand = errors.New("command name is empty")

// Run executes the command and captures its output.
func (r *ExecRunner) Run(ctx context.Context, command Command) (*Result, error) {
	if command.Name == "" {
		return nil, errEmptyCommand
	}

	//nolint:gosec // Tool paths come from the recipe by design of the packager.
	cmd := exec.CommandContext(ctx, command.Name, command.Args...)
	cmd.Dir = command.Dir
	cmd.Env = MergeEnv(os.Environ(), command.Env)

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if r.Output != nil {
		cmd.Stdout = io.MultiWriter(&stdout, r.Output)
		cmd.Stderr = io.MultiWriter(&stderr, r.Output)
	}

	err := cmd.Run()

	result := &Result{
		Stdout: stdout.Bytes(),
		Stderr: stderr.Bytes(),
	}

	if err == nil {
		return result, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("run %s: %w", command.Name, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}

	return nil, fmt.Errorf("start %s: %w", command.Name, err)
}

// MergeEnv returns base with overlay applied; overlay keys replace existing ones.
// The result is deterministic: overlay keys are appended in sorted order.
func MergeEnv(base []string, overlay map[string]string) []string {
	if len(overlay) == 0 {
		return base
	}

	merged := make([]string, 0, len(base)+len(overlay))

	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, replaced := overlay[key]; replaced {
			continue
		}

		merged = append(merged, kv)
	}

	keys := make([]string, 0, len(overlay))
	for key := range overlay {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	for _, key := range keys {
		merged = append(merged, key+"="+overlay[key])
	}

	return merged
}

func quote(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\"") {
		return fmt.Sprintf("%q", s)
	}

	return s
}
