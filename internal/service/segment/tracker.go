// Package segment tracks the utterances of one recognizer session so that
// downstream consumers see partials only while an utterance is open and
// exactly one completion per utterance.
package segment

import (
	"errors"
	"fmt"
	"sync"
)

// State is the lifecycle state of one utterance.
type State int

const (
	// StateOpen: partial results may still arrive.
	StateOpen State = iota
	// StateCompleted: the stable text was emitted.
	StateCompleted
	// StateDropped: the session ended before the utterance completed.
	StateDropped
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateCompleted:
		return "COMPLETED"
	case StateDropped:
		return "DROPPED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal reports whether no further emission is allowed.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateDropped
}

var (
	ErrAlreadyCompleted = errors.New("utterance already completed")
	ErrPartialAfterEnd  = errors.New("partial after utterance end")
	ErrDropped          = errors.New("utterance dropped")
	ErrTrackerClosed    = errors.New("tracker closed")
)

// Tracker holds the state of every utterance index seen in one session.
//
//	(unseen) ──Partial──→ OPEN ──Complete──→ COMPLETED
//	   │                    │
//	   └──Complete──────────┼──────────────→ COMPLETED
//	                        └──Close───────→ DROPPED
type Tracker struct {
	mu     sync.Mutex
	states map[int]State
	closed bool
}

func NewTracker() *Tracker {
	return &Tracker{states: make(map[int]State)}
}

// Partial records a partial result for index. It fails once the utterance
// has ended.
func (t *Tracker) Partial(index int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTrackerClosed
	}
	switch st, ok := t.states[index]; {
	case !ok, st == StateOpen:
		t.states[index] = StateOpen
		return nil
	case st == StateCompleted:
		return ErrPartialAfterEnd
	default:
		return ErrDropped
	}
}

// Complete marks index completed. Only the first call succeeds.
func (t *Tracker) Complete(index int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTrackerClosed
	}
	switch t.states[index] {
	case StateCompleted:
		return ErrAlreadyCompleted
	case StateDropped:
		return ErrDropped
	}
	t.states[index] = StateCompleted
	return nil
}

// State returns the state of index and whether it was seen.
func (t *Tracker) State(index int) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[index]
	return st, ok
}

// Close drops every open utterance and returns how many there were.
// Later calls return 0.
func (t *Tracker) Close() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0
	}
	t.closed = true
	dropped := 0
	for idx, st := range t.states {
		if st == StateOpen {
			t.states[idx] = StateDropped
			dropped++
		}
	}
	return dropped
}
