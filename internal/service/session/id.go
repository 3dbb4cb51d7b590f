package session

import (
	"fmt"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
)

// NewID returns a new lexicographically sortable session id.
func NewID() string {
	return ulid.Make().String()
}

// Sequence numbers messages within one session.
type Sequence struct {
	sessionId string
	counter   uint64
}

func NewSequence(sessionId string) *Sequence {
	return &Sequence{sessionId: sessionId}
}

// Next returns the next message id, e.g. "01J...-msg-3".
func (s *Sequence) Next() string {
	n := atomic.AddUint64(&s.counter, 1)
	return fmt.Sprintf("%s-msg-%d", s.sessionId, n)
}
