// Package safego provides panic-recovering wrappers for background and best-effort work.
package safego

import (
	"fmt"
	"log/slog"
)

// Go launches fn in a new goroutine. A panic inside fn is recovered and logged
// instead of crashing the process.
func Go(fn func()) {
	GoNamed("background", fn)
}

// GoNamed is Go with a task name attached to the panic log record, e.g.
// "ledger.record_async" or "export.worker".
func GoNamed(task string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine", "task", task, "panic", r)
			}
		}()
		fn()
	}()
}

// Recover runs fn on the calling goroutine and converts a panic into an error.
// Callers that must never propagate a panic (the audit log writer) wrap their
// body with it.
func Recover(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovered panic: %v", r)
		}
	}()
	fn()
	return nil
}
