// Package procreg tracks in-flight turns and their cancellation handles.
// A Token is the cooperative cancellation primitive observed by a running
// turn; the Registry maps opaque turn ids to tokens so that session-level
// stop requests can reach whichever call is currently in flight.
package procreg

import "sync"

// Token is a monotonic cancellation handle: once cancelled it stays
// cancelled and the first recorded reason wins. Safe for concurrent use.
type Token struct {
	mu     sync.Mutex
	done   chan struct{}
	reason string
}

// NewToken returns a fresh, uncancelled Token.
func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel marks the token cancelled and wakes every waiter. It reports
// whether this call performed the cancellation; repeated calls are no-ops
// returning false.
func (t *Token) Cancel(reason string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.done:
		return false
	default:
	}
	t.reason = reason
	close(t.done)
	return true
}

// Cancelled is the non-blocking poll.
func (t *Token) Cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed on cancellation, for use in select
// statements racing a token against normal completion.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// Reason returns the reason recorded by the winning Cancel call, or "" if
// the token is not cancelled.
func (t *Token) Reason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}
