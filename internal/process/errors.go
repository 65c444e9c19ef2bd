package process

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// outputTailLines is how many trailing output lines a StepError keeps.
const outputTailLines = 20

// StepError reports a pipeline step whose tool exited with a non-zero status.
type StepError struct {
	// Step is the pipeline step name.
	Step string
	// ExitCode is the tool's exit status.
	ExitCode int
	// Output is the tail of the tool's stderr, or stdout when stderr was empty.
	Output string
}

// Error implements error.
func (e *StepError) Error() string {
	msg := fmt.Sprintf("%s failed with exit code %d", e.Step, e.ExitCode)
	if e.Output != "" {
		msg += ": " + e.Output
	}

	return msg
}

// Check returns a *StepError when the command did not succeed.
func (r *Result) Check(step string) error {
	if r == nil || r.ExitCode == 0 {
		return nil
	}

	output := r.Stderr
	if len(bytes.TrimSpace(output)) == 0 {
		output = r.Stdout
	}

	return &StepError{
		Step:     step,
		ExitCode: r.ExitCode,
		Output:   tail(string(output), outputTailLines),
	}
}

// ExitCode maps an error to the status distpack exits with.
// A failing tool propagates its own status; anything else exits 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var stepErr *StepError
	if errors.As(err, &stepErr) && stepErr.ExitCode > 0 {
		return stepErr.ExitCode
	}

	return 1
}

func tail(s string, lines int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	parts := strings.Split(s, "\n")
	if len(parts) > lines {
		parts = parts[len(parts)-lines:]
	}

	return strings.Join(parts, "\n")
}
