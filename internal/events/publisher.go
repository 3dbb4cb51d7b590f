// Package events publishes transcript and call record events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"asr-call-monitor/internal/models"
	"asr-call-monitor/internal/observability/metrics"
	"asr-call-monitor/internal/schema"
	"asr-call-monitor/internal/service/monitor"
	"asr-call-monitor/internal/service/segment"
	"asr-call-monitor/internal/service/session"
	"asr-call-monitor/internal/service/stt"
)

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher publishes partial transcripts, utterances and call records to
// separate Kafka topics. Without brokers it only logs.
type Publisher struct {
	writerPartial    messageWriter
	writerUtterance  messageWriter
	writerCallRecord messageWriter
	principal        string
	topicPartial     string
	topicUtterance   string
	topicCallRecord  string
	enabled          bool
	metrics          *metrics.Metrics
	validator        *schema.Validator
	logger           zerolog.Logger
	now              func() time.Time

	mu       sync.Mutex
	seqs     map[string]*session.Sequence
	trackers map[string]*segment.Tracker
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers         []string
	TopicPartial    string
	TopicUtterance  string
	TopicCallRecord string
	Principal       string
	Enabled         bool
}

// Option customizes a Publisher.
type Option func(*Publisher)

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Publisher) { p.logger = l }
}

// New creates a publisher. A nil or disabled config, or one without brokers,
// yields a log-only publisher.
func New(cfg *Config, opts ...Option) *Publisher {
	p := &Publisher{
		metrics:  metrics.DefaultMetrics,
		logger:   log.Logger,
		now:      time.Now,
		seqs:     make(map[string]*session.Sequence),
		trackers: make(map[string]*segment.Tracker),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.validator = schema.New(p.logger)

	if cfg == nil {
		p.logger.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return p
	}
	p.principal = cfg.Principal
	p.topicPartial = cfg.TopicPartial
	p.topicUtterance = cfg.TopicUtterance
	p.topicCallRecord = cfg.TopicCallRecord

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		p.logger.Info().Msg("Kafka disabled, using log-only mode")
		return p
	}

	// Longer dial timeout for DNS resolution in Kubernetes.
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}
	// Partials are written in the background; failures surface in Completion.
	partial := newWriter(cfg.TopicPartial)
	partial.Async = true
	partial.Completion = func(msgs []kafka.Message, err error) {
		if err != nil {
			p.logger.Error().Err(err).Str("topic", cfg.TopicPartial).Int("messages", len(msgs)).Msg("Async write to Kafka failed")
			p.metrics.RecordKafkaPublish(cfg.TopicPartial, "partial", err, 0)
		}
	}
	p.writerPartial = partial
	p.writerUtterance = newWriter(cfg.TopicUtterance)
	p.writerCallRecord = newWriter(cfg.TopicCallRecord)
	p.enabled = true

	p.logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicPartial", cfg.TopicPartial).
		Str("topicUtterance", cfg.TopicUtterance).
		Str("topicCallRecord", cfg.TopicCallRecord).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")
	return p
}

// Hook returns an event hook for one session. Completed events go to the
// utterance topic, everything else to the partial topic. Events without
// text, partials of an ended utterance and repeated completions are skipped.
func (p *Publisher) Hook(sessionID string) stt.EventHook {
	tracker := p.tracker(sessionID)
	return func(ctx context.Context, ev stt.Event) {
		if ev.Text == "" {
			return
		}
		if ev.Completed() {
			if err := tracker.Complete(ev.Index); err != nil {
				p.logger.Debug().Err(err).Str("sessionId", sessionID).Int("index", ev.Index).Msg("Skipping utterance")
				return
			}
			_ = p.PublishUtterance(ctx, models.NewTranscriptUtterance(p.nextID(sessionID), sessionID, ev, p.now()))
			return
		}
		if err := tracker.Partial(ev.Index); err != nil {
			p.logger.Debug().Err(err).Str("sessionId", sessionID).Int("index", ev.Index).Msg("Skipping partial")
			return
		}
		_ = p.PublishPartial(ctx, models.NewTranscriptPartial(p.nextID(sessionID), sessionID, ev, p.now()))
	}
}

// Emit publishes a call record update; it makes Publisher a monitor.Sink.
func (p *Publisher) Emit(ctx context.Context, u monitor.Update) {
	_ = p.PublishCallRecord(ctx, models.NewCallRecordSnapshot(p.nextID(u.SessionID), u))
}

// PublishPartial publishes to the partial topic.
func (p *Publisher) PublishPartial(ctx context.Context, event models.TranscriptPartial) error {
	return p.publish(ctx, p.writerPartial, p.topicPartial, "partial", event.SessionID, event)
}

// PublishUtterance publishes to the utterance topic.
func (p *Publisher) PublishUtterance(ctx context.Context, event models.TranscriptUtterance) error {
	return p.publish(ctx, p.writerUtterance, p.topicUtterance, "utterance", event.SessionID, event)
}

// PublishCallRecord publishes to the call record topic.
func (p *Publisher) PublishCallRecord(ctx context.Context, event models.CallRecordSnapshot) error {
	return p.publish(ctx, p.writerCallRecord, p.topicCallRecord, "call_record", event.SessionID, event)
}

func (p *Publisher) nextID(sessionID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	seq, ok := p.seqs[sessionID]
	if !ok {
		seq = session.NewSequence(sessionID)
		p.seqs[sessionID] = seq
	}
	return seq.Next()
}

func (p *Publisher) publish(ctx context.Context, writer messageWriter, topic, eventType, key string, event any) error {
	start := time.Now()

	if err := p.validator.Validate(event); err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Msg("Rejected event")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	p.logger.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}
	if err := writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

func (p *Publisher) tracker(sessionID string) *segment.Tracker {
	p.mu.Lock()
	defer p.mu.Unlock()
	tr, ok := p.trackers[sessionID]
	if !ok {
		tr = segment.NewTracker()
		p.trackers[sessionID] = tr
	}
	return tr
}

// Forget drops the per-session state. Utterances still open are counted
// as dropped; their partials were published but no utterance event follows.
func (p *Publisher) Forget(sessionID string) {
	p.mu.Lock()
	tr := p.trackers[sessionID]
	delete(p.seqs, sessionID)
	delete(p.trackers, sessionID)
	p.mu.Unlock()

	if tr != nil {
		if n := tr.Close(); n > 0 {
			p.logger.Info().Str("sessionId", sessionID).Int("dropped", n).Msg("Session ended with open utterances")
		}
	}
}

// Close closes all Kafka writers.
func (p *Publisher) Close() error {
	var err error
	for name, w := range map[string]messageWriter{
		"partial":     p.writerPartial,
		"utterance":   p.writerUtterance,
		"call_record": p.writerCallRecord,
	} {
		if w == nil {
			continue
		}
		if e := w.Close(); e != nil {
			p.logger.Error().Err(e).Str("writer", name).Msg("Error closing writer")
			err = e
		}
	}
	return err
}
