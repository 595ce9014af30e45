// Package cancel provides a lightweight cancellation signal that can be
// polled cooperatively by long-running tool executions (subprocesses,
// provider streams) without wiring a fresh context.Context through every
// call site.
package cancel

import "sync/atomic"

// Signal is a single-writer, many-reader cancellation flag. Trip marks it
// cancelled; Reset starts a new generation so a Signal can be reused across
// turns without readers seeing a stale cancellation from a previous turn.
type Signal struct {
	state atomic.Uint64 // high 32 bits: generation, low bit: cancelled
}

// New returns a Signal in the not-cancelled state.
func New() *Signal {
	return &Signal{}
}

// Trip marks the current generation cancelled. Safe to call concurrently
// with Cancelled; must not be called concurrently with Reset.
func (s *Signal) Trip() {
	for {
		old := s.state.Load()
		if old&1 == 1 {
			return
		}
		if s.state.CompareAndSwap(old, old|1) {
			return
		}
	}
}

// Cancelled reports whether the current generation has been tripped.
func (s *Signal) Cancelled() bool {
	return s.state.Load()&1 == 1
}

// Reset advances to a new generation and clears the cancelled bit, so a
// Signal reused across agent turns starts each turn uncancelled.
func (s *Signal) Reset() {
	for {
		old := s.state.Load()
		gen := old >> 32
		next := (gen + 1) << 32
		if s.state.CompareAndSwap(old, next) {
			return
		}
	}
}
