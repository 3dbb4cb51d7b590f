package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Update is emitted after every successful extraction.
type Update struct {
	SessionID  string
	Record     CallRecord
	Snapshot   Snapshot
	Utterances int
	At         time.Time
}

// Sink receives call record updates.
type Sink interface {
	Emit(ctx context.Context, u Update)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, u Update)

func (f SinkFunc) Emit(ctx context.Context, u Update) { f(ctx, u) }

// MultiSink fans an update out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, u Update) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, u)
		}
	}
}

// LogSink writes each update as a structured log line.
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Emit(_ context.Context, u Update) {
	s.Logger.Info().
		Str("sessionId", u.SessionID).
		Int("utterances", u.Utterances).
		Str("caller", u.Snapshot.CallerName).
		Str("location", u.Snapshot.Location).
		Str("caseCategory", u.Snapshot.CaseCategory).
		Str("description", u.Snapshot.Description).
		Msg("Call analysis update")
}

// Store keeps the latest update for readers such as the HTTP API.
type Store struct {
	mu     sync.RWMutex
	latest Update
	ok     bool
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Emit(_ context.Context, u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = u
	s.ok = true
}

// Latest returns the most recent update, if any.
func (s *Store) Latest() (Update, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.ok
}
