package ledger

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Health is the process-wide read-only switch driven by chain validation.
// The zero value is not usable; construct with NewHealth.
type Health struct {
	healthy atomic.Bool

	mu   sync.Mutex
	subs []func(healthy bool)
}

// NewHealth returns a healthy flag.
func NewHealth() *Health {
	h := &Health{}
	h.healthy.Store(true)
	return h
}

// Healthy reports whether writes are allowed.
func (h *Health) Healthy() bool { return h.healthy.Load() }

// ReadOnly is the negation of Healthy.
func (h *Health) ReadOnly() bool { return !h.healthy.Load() }

// SetHealthy stores ok and notifies subscribers when the value changes.
func (h *Health) SetHealthy(ok bool) {
	if h.healthy.Swap(ok) == ok {
		return
	}
	h.mu.Lock()
	subs := slices.Clone(h.subs)
	h.mu.Unlock()
	for _, fn := range subs {
		fn(ok)
	}
}

// Subscribe registers fn and calls it once with the current value.
func (h *Health) Subscribe(fn func(healthy bool)) {
	h.mu.Lock()
	h.subs = append(h.subs, fn)
	h.mu.Unlock()
	fn(h.Healthy())
}
