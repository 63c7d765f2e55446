// Package wakelock declares the opaque suspend-blocker primitive the
// dispatch loop arbitrates and ships a software implementation that
// tracks acquire/release calls without touching real platform power APIs.
package wakelock

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const Name = "SensorService_wakelock"

// WakeLock is the single system suspend-blocker the dispatch loop
// arbitrates. Acquire is idempotent; Release is a no-op when not held.
type WakeLock interface {
	Acquire()
	Release()
	Held() bool
}

// Software is a WakeLock that just counts holds, for tests and for
// platforms with no real suspend-blocker API wired in.
type Software struct {
	held atomic.Bool
	mu   sync.Mutex
	log  zerolog.Logger

	acquireCount int
	releaseCount int
}

func NewSoftware(log zerolog.Logger) *Software {
	return &Software{log: log.With().Str("component", "wakelock").Str("name", Name).Logger()}
}

// Acquire is idempotent: acquiring an already-held wakelock is a no-op.
func (w *Software) Acquire() {
	if w.held.CompareAndSwap(false, true) {
		w.mu.Lock()
		w.acquireCount++
		w.mu.Unlock()
		w.log.Debug().Msg("wakelock acquired")
	}
}

func (w *Software) Release() {
	if w.held.CompareAndSwap(true, false) {
		w.mu.Lock()
		w.releaseCount++
		w.mu.Unlock()
		w.log.Debug().Msg("wakelock released")
	}
}

func (w *Software) Held() bool { return w.held.Load() }

// Counts returns the lifetime acquire/release counts, used by the
// diagnostic dump.
func (w *Software) Counts() (acquire, release int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.acquireCount, w.releaseCount
}
