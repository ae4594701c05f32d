package assist

import (
	"sync"
	"time"
)

// Token identifies one request issued on a Slot. Tokens increase
// monotonically; zero is never issued.
type Token uint64

// Slot tracks the latest request for one logical purpose, such as the
// chart preview of a pipeline. Only the response to the most recently
// begun request may be applied.
type Slot struct {
	mu      sync.Mutex
	current Token
}

// Begin issues a new token, superseding every earlier one.
func (s *Slot) Begin() Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current++
	return s.current
}

// Current returns the latest issued token.
func (s *Slot) Current() Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Apply runs fn if t is still the latest token, and returns ErrStale
// otherwise. The slot stays locked while fn runs, so no newer request can
// be begun between the check and the write.
func (s *Slot) Apply(t Token, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t != s.current {
		return ErrStale
	}
	return fn()
}

// Debouncer delays an action until triggers stop arriving for a quiet
// period. Each firing begins a new token on its slot and passes it to the
// action.
type Debouncer struct {
	quiet time.Duration
	slot  *Slot

	mu    sync.Mutex
	timer *time.Timer
}

// NewDebouncer returns a Debouncer issuing tokens from slot. A nil slot
// gets a private one.
func NewDebouncer(quiet time.Duration, slot *Slot) *Debouncer {
	if slot == nil {
		slot = &Slot{}
	}
	return &Debouncer{quiet: quiet, slot: slot}
}

// Slot returns the slot tokens are issued from.
func (d *Debouncer) Slot() *Slot { return d.slot }

// Trigger schedules fn after the quiet period, replacing any pending
// action. An action that already fired is not cancelled.
func (d *Debouncer) Trigger(fn func(Token)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.quiet, func() {
		fn(d.slot.Begin())
	})
}

// Stop drops a pending action.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
