// Package session provides recognizer session ids and the session lifecycle.
package session

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a recognizer session.
type State int

const (
	// StateIdle - Session created, no connection yet.
	StateIdle State = iota
	// StateConnecting - Dialing and waiting for the handshake.
	StateConnecting
	// StateAuthenticated - Handshake accepted, streaming not started.
	StateAuthenticated
	// StateStreaming - Sender and receiver loops running.
	StateStreaming
	// StateClosing - Final event observed or end of input sent; waiting for close.
	StateClosing
	// StateClosed - Connection released after a clean run.
	StateClosed
	// StateFailed - Session aborted (auth rejected, transport lost, service error).
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateStreaming:
		return "STREAMING"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal (CLOSED or FAILED).
func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateFailed
}

// ErrInvalidTransition is returned for transitions the lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid session state transition")

// Lifecycle manages the state machine for a single session.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	IDLE → CONNECTING → AUTHENTICATED → STREAMING → CLOSING → CLOSED
//	          │               │             │          │
//	          └───────────────┴─────────────┴──────────┴──→ FAILED
//
// Rules:
//   - BeginStreaming is idempotent while STREAMING (both loops call it)
//   - Close moves any non-terminal state to CLOSED; FAILED stays FAILED
//   - Fail moves any non-terminal state to FAILED
type Lifecycle struct {
	mu        sync.RWMutex
	sessionId string
	state     State
	cause     error
}

// NewLifecycle creates a new session lifecycle in IDLE state.
func NewLifecycle(sessionId string) *Lifecycle {
	return &Lifecycle{
		sessionId: sessionId,
		state:     StateIdle,
	}
}

// SessionId returns the session ID.
func (l *Lifecycle) SessionId() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sessionId
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Cause returns the error recorded by Fail, if any.
func (l *Lifecycle) Cause() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cause
}

// IsActive returns true while the session holds an authenticated connection.
func (l *Lifecycle) IsActive() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	switch l.state {
	case StateAuthenticated, StateStreaming, StateClosing:
		return true
	}
	return false
}

// BeginConnect transitions IDLE → CONNECTING.
func (l *Lifecycle) BeginConnect() error {
	return l.transition(StateConnecting, StateIdle)
}

// Authenticated transitions CONNECTING → AUTHENTICATED.
func (l *Lifecycle) Authenticated() error {
	return l.transition(StateAuthenticated, StateConnecting)
}

// BeginStreaming transitions AUTHENTICATED → STREAMING.
// Calling it again while STREAMING or CLOSING is a no-op.
func (l *Lifecycle) BeginStreaming() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case StateAuthenticated:
		l.state = StateStreaming
		return nil
	case StateStreaming, StateClosing:
		return nil
	default:
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, l.state, StateStreaming)
	}
}

// BeginClosing transitions STREAMING → CLOSING.
func (l *Lifecycle) BeginClosing() error {
	return l.transition(StateClosing, StateStreaming, StateClosing)
}

// Close transitions the session to CLOSED. FAILED sessions stay FAILED.
// Can be called from any state. Idempotent.
func (l *Lifecycle) Close() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateFailed {
		l.state = StateClosed
	}
	return l.state
}

// Fail transitions the session to FAILED and records the cause.
// Returns true if the session failed, false if already in a terminal state.
func (l *Lifecycle) Fail(cause error) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateFailed
	l.cause = cause
	return true
}

func (l *Lifecycle) transition(to State, from ...State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, f := range from {
		if l.state == f {
			l.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, l.state, to)
}
