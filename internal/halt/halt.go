// Package halt models the platform-wide "is trading enabled" switch as an
// explicit capability instead of ambient global state.
package halt

import (
	"sync"
	"sync/atomic"
	"time"
)

// Switch is the process-wide trading-enabled flag. Halt is compare-and-set:
// only the first caller performs the disabling transition; later calls are
// no-ops, which makes the signal safe to invoke from every detector site.
type Switch struct {
	disabled atomic.Bool

	mu       sync.Mutex
	reason   string
	haltedAt time.Time
	hooks    []func(reason string, at time.Time)
}

// NewSwitch returns an enabled switch.
func NewSwitch() *Switch {
	return &Switch{}
}

// OnHalt registers a hook invoked once, on the disabling transition.
// Hooks must be registered before the switch is shared.
func (s *Switch) OnHalt(hook func(reason string, at time.Time)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// Halt disables trading with the given reason. Returns true only for the
// call that performed the transition.
func (s *Switch) Halt(reason string) bool {
	if !s.disabled.CompareAndSwap(false, true) {
		return false
	}

	now := time.Now()

	s.mu.Lock()
	s.reason = reason
	s.haltedAt = now
	hooks := s.hooks
	s.mu.Unlock()

	for _, hook := range hooks {
		hook(reason, now)
	}
	return true
}

// IsEnabled reports whether trading is currently enabled.
func (s *Switch) IsEnabled() bool {
	return !s.disabled.Load()
}

// Reason returns the halt reason and time, or ok=false when still enabled.
func (s *Switch) Reason() (reason string, at time.Time, ok bool) {
	if s.IsEnabled() {
		return "", time.Time{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason, s.haltedAt, true
}

// Resume re-enables trading after operator intervention.
func (s *Switch) Resume() {
	s.mu.Lock()
	s.reason = ""
	s.haltedAt = time.Time{}
	s.mu.Unlock()
	s.disabled.Store(false)
}
