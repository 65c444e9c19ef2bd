package pipeline

import (
	"errors"
	"fmt"
)

// Step is a state of a packaging run.
type Step int

// Steps in execution order.
const (
	Start Step = iota
	DependencyPrep
	Clean
	Build
	CopyAssets
	Manifest
	Archive
	Reveal
	Done
	Abort
)

var stepNames = [...]string{
	Start:          "start",
	DependencyPrep: "dependency-prep",
	Clean:          "clean",
	Build:          "build",
	CopyAssets:     "copy-assets",
	Manifest:       "manifest",
	Archive:        "archive",
	Reveal:         "reveal",
	Done:           "done",
	Abort:          "abort",
}

// String returns the step name used in logs and errors.
func (s Step) String() string {
	if s < 0 || int(s) >= len(stepNames) {
		return fmt.Sprintf("step(%d)", int(s))
	}

	return stepNames[s]
}

// Terminal reports whether no transition leaves the step.
func (s Step) Terminal() bool {
	return s == Done || s == Abort
}

// CanAbort reports whether a failure in this step aborts the run.
// Reveal is cosmetic and never aborts.
func (s Step) CanAbort() bool {
	return s > Start && s < Reveal
}

// ErrInvalidTransition is returned for moves outside the linear order.
var ErrInvalidTransition = errors.New("invalid pipeline transition")

// Tracker enforces the step order of one run.
type Tracker struct {
	current Step
	history []Step
}

// NewTracker returns a tracker positioned at Start.
func NewTracker() *Tracker {
	return &Tracker{
		current: Start,
		history: []Step{Start},
	}
}

// Current returns the current step.
func (t *Tracker) Current() Step {
	return t.current
}

// History returns the visited steps in order.
func (t *Tracker) History() []Step {
	return append([]Step(nil), t.history...)
}

// Advance moves to next, which must directly follow the current step.
// Skipped steps still have to be entered; the caller decides they are no-ops.
func (t *Tracker) Advance(next Step) error {
	if t.current.Terminal() || next != t.current+1 || next == Abort {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.current, next)
	}

	t.enter(next)

	return nil
}

// Fail moves to Abort from a step that is allowed to fail.
func (t *Tracker) Fail() error {
	if !t.current.CanAbort() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.current, Abort)
	}

	t.enter(Abort)

	return nil
}

func (t *Tracker) enter(step Step) {
	t.current = step
	t.history = append(t.history, step)
}
