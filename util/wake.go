package util

import (
	"context"
)

// Wake is a depth-1 coalescing notification. Any number of TrySend calls
// between two receives collapse into a single pending wake. Producers (timers,
// edge handlers) never block on it; consumers block until a wake is pending.
type Wake struct {
	name   string
	notify chan struct{} // Buffered channel of size 1
}

// NewWake creates a new Wake instance.
func NewWake(name string) *Wake {
	return &Wake{
		name:   name,
		notify: make(chan struct{}, 1),
	}
}

// Name of the task this wake belongs to.
func (w *Wake) Name() string {
	return w.name
}

// TrySend posts a wake without blocking. It returns false when a wake was
// already pending, i.e. this one has been coalesced into it.
func (w *Wake) TrySend() bool {
	select {
	case w.notify <- struct{}{}:
		return true
	default:
		return false
	}
}

// C returns the receive side for use in select statements.
func (w *Wake) C() <-chan struct{} {
	return w.notify
}

// Wait blocks until a wake is pending or ctx is done.
func (w *Wake) Wait(ctx context.Context) error {
	select {
	case <-w.notify:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending checks if a wake is waiting to be consumed.
// This is a non-destructive check.
func (w *Wake) Pending() bool {
	return len(w.notify) > 0
}
