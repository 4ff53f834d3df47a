// Package admission implements the engine's global admission control: a
// counting semaphore enforcing maxConcurrent in-flight executions.
package admission

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Semaphore bounds the number of executions between Admitted and Released.
// Blocked acquirers are released in FIFO order (semaphore.Weighted's own
// guarantee), and a context cancellation while blocked returns immediately
// without acquiring a slot. A nil w means maxConcurrent was 0 (unbounded):
// every call is a no-op, except that Acquire still reports an
// already-cancelled ctx's error.
type Semaphore struct {
	w *semaphore.Weighted
}

// New creates a Semaphore allowing at most maxConcurrent concurrent holders.
// maxConcurrent <= 0 means unbounded: Acquire/TryAcquire never block, and
// only Acquire with an already-cancelled ctx fails, matching
// EngineOptions.AdmissionLimit's "zero means unbounded" contract.
func New(maxConcurrent int) *Semaphore {
	if maxConcurrent <= 0 {
		return &Semaphore{}
	}
	return &Semaphore{w: semaphore.NewWeighted(int64(maxConcurrent))}
}

// Acquire blocks until a slot is available or ctx is done. On ctx
// cancellation it returns ctx.Err() without side effects (no slot held).
func (s *Semaphore) Acquire(ctx context.Context) error {
	if s.w == nil {
		return ctx.Err()
	}
	return s.w.Acquire(ctx, 1)
}

// TryAcquire attempts to acquire a slot without blocking.
func (s *Semaphore) TryAcquire() bool {
	if s.w == nil {
		return true
	}
	return s.w.TryAcquire(1)
}

// Release returns a previously acquired slot.
func (s *Semaphore) Release() {
	if s.w == nil {
		return
	}
	s.w.Release(1)
}
