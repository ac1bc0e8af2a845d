// Package export builds proof packs: the filtered ledger slice rendered into
// PDFs, a canonical manifest listing every file hash, and the ZIP archive that
// carries them. It also verifies a manifest against the stored export record
// and the ledger event that recorded it.
package export

import (
	"errors"
	"fmt"
)

// State is the lifecycle position of an export job
type State string

const (
	StateQueued     State = "queued"
	StatePreparing  State = "preparing"
	StateGenerating State = "generating"
	StateUploading  State = "uploading"
	StateReady      State = "ready"
	StateFailed     State = "failed"
)

var (
	// ErrInvalidTransition is returned for a backward, skipping or unknown transition
	ErrInvalidTransition = errors.New("invalid export state transition")
	// ErrTerminalState is returned when leaving ready or failed
	ErrTerminalState = errors.New("export job is in a terminal state")
)

// Failure reasons stored on failed jobs
const (
	ReasonRenderFailed      = "render_failed"
	ReasonUploadFailed      = "upload_failed"
	ReasonLedgerQueryFailed = "ledger_query_failed"
	ReasonManifestFailed    = "manifest_failed"
	ReasonWorkerInterrupted = "worker_interrupted"
)

// stateOrder is the forward path; failed is reachable from any non-terminal state
var stateOrder = map[State]int{
	StateQueued:     0,
	StatePreparing:  1,
	StateGenerating: 2,
	StateUploading:  3,
	StateReady:      4,
}

var stateProgress = map[State]int{
	StateQueued:     0,
	StatePreparing:  10,
	StateGenerating: 40,
	StateUploading:  80,
	StateReady:      100,
}

// ParseState returns the state named by s
func ParseState(s string) (State, bool) {
	st := State(s)
	if _, ok := stateOrder[st]; ok || st == StateFailed {
		return st, true
	}
	return "", false
}

// IsTerminal reports whether no further transition is possible
func (s State) IsTerminal() bool {
	return s == StateReady || s == StateFailed
}

// Progress is the percentage reported to pollers while the job sits in s.
// A failed job keeps the progress of the state it failed in.
func (s State) Progress() int {
	return stateProgress[s]
}

// CanTransition reports whether a job may move from one state to another.
// Forward moves go one step at a time.
func CanTransition(from, to State) bool {
	return Transition(from, to) == nil
}

// Transition validates a move and returns ErrTerminalState or
// ErrInvalidTransition when it is not allowed.
func Transition(from, to State) error {
	if _, ok := ParseState(string(from)); !ok {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, from)
	}
	if _, ok := ParseState(string(to)); !ok {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, to)
	}
	if from.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTerminalState, from)
	}
	if to == StateFailed {
		return nil
	}
	if stateOrder[to] != stateOrder[from]+1 {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
