// Package monitor accumulates the conversation and incrementally extracts
// a structured call record from it.
package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"asr-call-monitor/internal/observability/logging"
	"asr-call-monitor/internal/observability/metrics"
	"asr-call-monitor/internal/queue"
)

// Config controls when extraction runs.
type Config struct {
	// Cooldown is the pause after each extraction before the next
	// utterance is taken.
	Cooldown time.Duration

	// MaxLatency forces an extraction when utterances have been pending
	// that long even though the queue never drained. Zero disables it.
	MaxLatency time.Duration

	// Timeout bounds a single extraction call. Zero means no bound.
	Timeout time.Duration
}

// DefaultConfig returns a 2 second cooldown and no latency bound.
func DefaultConfig() Config {
	return Config{
		Cooldown: 2 * time.Second,
		Timeout:  60 * time.Second,
	}
}

// Monitor drains the utterance FIFO. Extraction runs only when the FIFO is
// observed empty after an utterance is taken, so bursts are coalesced into
// one call that sees the whole history.
type Monitor struct {
	cfg       Config
	in        *queue.FIFO[string]
	extractor Extractor
	sink      Sink
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	sessionID string

	mu           sync.Mutex
	record       CallRecord
	history      []string
	pendingSince time.Time
	extractions  int
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(mon *Monitor) { mon.metrics = m }
}

// WithSessionID tags updates and logs with a session id.
func WithSessionID(id string) Option {
	return func(mon *Monitor) { mon.sessionID = id }
}

// New creates a monitor reading utterances from in.
func New(cfg Config, in *queue.FIFO[string], extractor Extractor, sink Sink, opts ...Option) *Monitor {
	m := &Monitor{
		cfg:       cfg,
		in:        in,
		extractor: extractor,
		sink:      sink,
		metrics:   metrics.DefaultMetrics,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sink == nil {
		m.sink = MultiSink{}
	}
	m.logger = logging.WithSession("monitor", m.sessionID).With().Str("extractor", extractor.Name()).Logger()
	return m
}

// Run processes utterances until ctx is cancelled or the FIFO is closed.
// Every utterance taken is acknowledged once it has been handled, including
// any extraction and cooldown it triggered.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		text, err := m.in.Get(ctx)
		if errors.Is(err, queue.ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}

		m.handle(ctx, text)
		m.in.Done()
	}
}

// handle appends text and extracts if nothing else is queued. Empty text
// adds nothing to the history but still flushes a deferred extraction.
func (m *Monitor) handle(ctx context.Context, text string) {
	m.mu.Lock()
	if text == "" {
		pending := !m.pendingSince.IsZero()
		m.mu.Unlock()
		if pending && m.in.Empty() {
			m.analyze(ctx)
			m.pause(ctx)
		}
		return
	}
	if m.pendingSince.IsZero() {
		m.pendingSince = time.Now()
	}
	m.history = append(m.history, text)
	n := len(m.history)
	overdue := m.cfg.MaxLatency > 0 && time.Since(m.pendingSince) >= m.cfg.MaxLatency
	m.mu.Unlock()

	m.metrics.SetHistoryLength(n)

	if !m.in.Empty() && !overdue {
		m.logger.Debug().Int("queued", m.in.Len()).Msg("Deferring extraction while utterances are queued")
		return
	}

	m.analyze(ctx)
	m.pause(ctx)
}

func (m *Monitor) analyze(ctx context.Context) {
	m.mu.Lock()
	current := m.record
	conversation := strings.Join(m.history, "\n")
	utterances := len(m.history)
	m.pendingSince = time.Time{}
	m.mu.Unlock()

	callCtx := ctx
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	next, err := m.extractor.Extract(callCtx, current, conversation)
	m.metrics.RecordExtraction(m.extractor.Name(), err, time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warn().Err(err).Int("utterances", utterances).Msg("Extraction failed, keeping previous record")
		}
		return
	}

	m.mu.Lock()
	m.record = m.record.Merge(next)
	record := m.record
	m.extractions++
	m.mu.Unlock()

	m.sink.Emit(ctx, Update{
		SessionID:  m.sessionID,
		Record:     record,
		Snapshot:   record.Render(),
		Utterances: utterances,
		At:         time.Now(),
	})
}

func (m *Monitor) pause(ctx context.Context) {
	if m.cfg.Cooldown <= 0 {
		return
	}
	t := time.NewTimer(m.cfg.Cooldown)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Record returns the current call record.
func (m *Monitor) Record() CallRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record
}

// History returns a copy of the conversation so far.
func (m *Monitor) History() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.history...)
}

// Extractions returns the number of successful extractions.
func (m *Monitor) Extractions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.extractions
}
