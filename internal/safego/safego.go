// Package safego launches background goroutines that cannot take the process
// down: a panic in the spawned function is recovered and logged instead of
// propagating.
package safego

import (
	"log/slog"
	"runtime/debug"
)

// Go runs fn on a new goroutine, recovering and logging any panic together
// with its stack. Every fire-and-forget goroutine in the registry (background
// jobs, async audit writes, last-used timestamp updates) goes through here so
// a bug in one of them degrades to an error log instead of a crash.
func Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine",
					"panic", r,
					"stack", string(debug.Stack()))
			}
		}()
		fn()
	}()
}
