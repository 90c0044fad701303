// Package cancelscope unifies user abort, per-request timeout, and per-stream
// idle timeout into one cancellable scope with a reason tag.
package cancelscope

import (
	"context"
	"sync"
	"time"
)

// Reason tags why a scope tripped. At most one reason is ever recorded.
type Reason string

const (
	// ReasonNone means the scope tripped from upstream abort, or not at all.
	ReasonNone Reason = ""

	// ReasonRequestTimeout means the per-request timer fired.
	ReasonRequestTimeout Reason = "request_timeout"

	// ReasonStreamIdleTimeout means the stream idle timer fired.
	ReasonStreamIdleTimeout Reason = "stream_idle_timeout"
)

// Scope is a cancellable scope whose trip carries a reason. The first writer
// of a reason wins; an upstream abort trips the scope with ReasonNone.
type Scope struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	reason       Reason
	reasonSet    bool
	requestTimer *time.Timer
	idleTimer    *time.Timer
	idleTimeout  time.Duration
	closed       bool
}

// New creates a scope derived from upstream. If requestTimeout > 0 a request
// timer is armed; when it fires the scope marks ReasonRequestTimeout and
// trips. Upstream cancellation trips the scope without a reason.
func New(upstream context.Context, requestTimeout time.Duration) *Scope {
	ctx, cancel := context.WithCancel(upstream)
	s := &Scope{ctx: ctx, cancel: cancel}
	if requestTimeout > 0 {
		s.requestTimer = time.AfterFunc(requestTimeout, func() {
			s.Mark(ReasonRequestTimeout)
		})
	}
	return s
}

// Context returns the scope's context; observers select on Done.
func (s *Scope) Context() context.Context { return s.ctx }

// Done returns the channel closed when the scope trips.
func (s *Scope) Done() <-chan struct{} { return s.ctx.Done() }

// Err returns the context error once the scope has tripped.
func (s *Scope) Err() error { return s.ctx.Err() }

// Mark records the reason if none is recorded yet, then trips the scope.
// ReasonNone trips without recording.
func (s *Scope) Mark(reason Reason) {
	s.mu.Lock()
	if !s.reasonSet && reason != ReasonNone {
		s.reason = reason
		s.reasonSet = true
	}
	s.mu.Unlock()
	s.cancel()
}

// Reason returns the recorded reason, or ReasonNone.
func (s *Scope) Reason() Reason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// ClearRequestTimer stops the request timer. Called once SSE framing is
// detected, before the idle timer takes over.
func (s *Scope) ClearRequestTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.requestTimer != nil {
		s.requestTimer.Stop()
		s.requestTimer = nil
	}
}

// StartIdleTimer arms the stream idle timer. When it fires the scope marks
// ReasonStreamIdleTimeout and trips. TouchIdle resets it.
func (s *Scope) StartIdleTimer(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || d <= 0 {
		return
	}
	s.idleTimeout = d
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(d, func() {
		s.Mark(ReasonStreamIdleTimeout)
	})
}

// TouchIdle resets the idle timer after a successful read.
func (s *Scope) TouchIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idleTimer != nil {
		s.idleTimer.Reset(s.idleTimeout)
	}
}

// Close stops all timers and releases the scope. Idempotent. It does not
// record a reason; a scope closed before tripping reads as ReasonNone.
func (s *Scope) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.requestTimer != nil {
		s.requestTimer.Stop()
		s.requestTimer = nil
	}
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	s.mu.Unlock()
	s.cancel()
}
