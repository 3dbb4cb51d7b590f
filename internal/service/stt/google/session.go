// Package google provides a Google Cloud Speech-to-Text recognizer session.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"asr-call-monitor/internal/observability/logging"
	"asr-call-monitor/internal/observability/metrics"
	"asr-call-monitor/internal/queue"
	"asr-call-monitor/internal/service/session"
	"asr-call-monitor/internal/service/stt"
)

// Provider is the name this recognizer reports in logs and metrics.
const Provider = "google"

// Config holds the streaming recognition settings.
type Config struct {
	LanguageCode   string
	SampleRateHz   int
	InterimResults bool
	AudioEncoding  string
}

// DefaultConfig returns telephone-quality LINEAR16 settings.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   8000,
		InterimResults: true,
		AudioEncoding:  "LINEAR16",
	}
}

// parseAudioEncoding maps an encoding name to the API enum, LINEAR16 when unknown.
func parseAudioEncoding(s string) speechpb.RecognitionConfig_AudioEncoding {
	if v, ok := speechpb.RecognitionConfig_AudioEncoding_value[s]; ok && v != 0 {
		return speechpb.RecognitionConfig_AudioEncoding(v)
	}
	return speechpb.RecognitionConfig_LINEAR16
}

// Stream is the bidirectional recognize stream.
type Stream interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

// Opener starts a recognize stream bound to ctx.
type Opener func(ctx context.Context) (Stream, error)

// NewOpener creates a Speech client and returns an Opener using it, plus
// the client's Close. Credentials come from GOOGLE_APPLICATION_CREDENTIALS
// unless opts say otherwise.
func NewOpener(ctx context.Context, opts ...option.ClientOption) (Opener, func() error, error) {
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, nil, err
	}
	open := func(ctx context.Context) (Stream, error) {
		return c.StreamingRecognize(ctx)
	}
	return open, c.Close, nil
}

// Option customizes a Session.
type Option func(*Session)

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithEventHook registers a hook that sees every recognition event.
func WithEventHook(h stt.EventHook) Option {
	return func(s *Session) { s.hook = h }
}

// WithSessionID overrides the generated session id.
func WithSessionID(id string) Option {
	return func(s *Session) { s.id = id }
}

// Session streams the audio FIFO to Google and forwards final results to
// the utterance FIFO. The recognizer has no explicit final flag: the stream
// ending after CloseSend plays that role.
type Session struct {
	id         string
	cfg        Config
	open       Opener
	frames     *queue.FIFO[stt.Frame]
	utterances *queue.FIFO[string]
	lifecycle  *session.Lifecycle
	metrics    *metrics.Metrics
	hook       stt.EventHook
	logger     zerolog.Logger

	stream  Stream
	cancel  context.CancelFunc
	started time.Time

	closeOnce sync.Once
}

// New creates a session in the IDLE state.
func New(cfg Config, open Opener, frames *queue.FIFO[stt.Frame], utterances *queue.FIFO[string], opts ...Option) *Session {
	s := &Session{
		id:         session.NewID(),
		cfg:        cfg,
		open:       open,
		frames:     frames,
		utterances: utterances,
		metrics:    metrics.DefaultMetrics,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lifecycle = session.NewLifecycle(s.id)
	s.logger = logging.WithStream(s.id, "", Provider)
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() session.State { return s.lifecycle.State() }

// Lifecycle exposes the session state machine for readiness checks.
func (s *Session) Lifecycle() *session.Lifecycle { return s.lifecycle }

// Connect opens the stream and sends the recognition config as the first
// message. Credential problems only surface on the first Recv and are
// reported by RunReceiver as an AuthError.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.lifecycle.BeginConnect(); err != nil {
		return err
	}
	s.started = time.Now()
	s.metrics.RecordSessionStart()

	streamCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	stream, err := s.open(streamCtx)
	if err != nil {
		err = fmt.Errorf("%w: open stream: %w", stt.ErrTransport, err)
		s.lifecycle.Fail(err)
		return err
	}
	s.stream = stream

	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        parseAudioEncoding(s.cfg.AudioEncoding),
					SampleRateHertz: int32(s.cfg.SampleRateHz),
					LanguageCode:    s.cfg.LanguageCode,
				},
				InterimResults: s.cfg.InterimResults,
			},
		},
	})
	if err != nil {
		err = s.classify(err)
		s.lifecycle.Fail(err)
		return err
	}

	if err := s.lifecycle.Authenticated(); err != nil {
		return err
	}
	s.logger.Info().Str("language", s.cfg.LanguageCode).Msg("Stream opened")
	return nil
}

// RunSender drains the audio FIFO into the stream. END closes the send side.
func (s *Session) RunSender(ctx context.Context) error {
	if err := s.lifecycle.BeginStreaming(); err != nil {
		return err
	}

	for {
		frame, err := s.frames.Get(ctx)
		if errors.Is(err, queue.ErrClosed) {
			return s.closeSend()
		}
		if err != nil {
			return err
		}

		if frame.IsEnd() {
			err := s.closeSend()
			s.frames.Done()
			return err
		}

		err = s.stream.Send(&speechpb.StreamingRecognizeRequest{
			StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
				AudioContent: frame.Data(),
			},
		})
		s.frames.Done()
		if err != nil {
			// Send reports io.EOF when the server ended the stream; the real
			// cause is returned by Recv.
			if errors.Is(err, io.EOF) {
				return nil
			}
			err = s.classify(err)
			s.lifecycle.Fail(err)
			return err
		}
		s.metrics.RecordAudioSent(len(frame.Data()))
	}
}

func (s *Session) closeSend() error {
	if err := s.stream.CloseSend(); err != nil {
		err = fmt.Errorf("%w: close send: %w", stt.ErrTransport, err)
		s.lifecycle.Fail(err)
		return err
	}
	s.metrics.RecordEndOfStream()
	s.lifecycle.BeginClosing()
	return nil
}

// RunReceiver forwards final results until the stream ends.
func (s *Session) RunReceiver(ctx context.Context) error {
	if err := s.lifecycle.BeginStreaming(); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, s.cancel)
	defer stop()

	index := 0
	speaking := false
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.lifecycle.BeginClosing()
			s.logger.Info().Msg("Stream ended")
			return nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				s.lifecycle.Fail(ctxErr)
				return ctxErr
			}
			err = s.classify(err)
			s.lifecycle.Fail(err)
			if errors.As(err, new(*stt.AuthError)) {
				s.metrics.RecordAuthFailure()
			}
			return err
		}

		for _, r := range resp.Results {
			if len(r.Alternatives) == 0 {
				continue
			}
			alt := r.Alternatives[0]

			ev := stt.Event{
				Text:  alt.Transcript,
				Index: index,
				Slice: stt.SliceSpeaking,
			}
			if r.ResultEndTime != nil {
				ev.EndMs = r.ResultEndTime.AsDuration().Milliseconds()
			}
			switch {
			case r.IsFinal:
				ev.Slice = stt.SliceStable
				index++
				speaking = false
			case !speaking:
				ev.Slice = stt.SliceStart
				speaking = true
			}

			s.metrics.RecordEvent(ev.Slice.String())
			if s.hook != nil {
				s.hook(ctx, ev)
			}
			if ev.Completed() && ev.Text != "" {
				if err := s.utterances.Put(ctx, ev.Text); err != nil {
					return err
				}
				s.metrics.RecordUtterance()
				s.logger.Info().
					Int("index", ev.Index).
					Float32("confidence", alt.Confidence).
					Str("text", ev.Text).
					Msg("Utterance")
			}
		}
	}
}

// classify maps a gRPC status to the session error taxonomy.
func (s *Session) classify(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %w", stt.ErrTransport, err)
	}
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return &stt.AuthError{Code: int(st.Code()), Message: st.Message()}
	case codes.Unavailable, codes.Canceled, codes.Aborted:
		return fmt.Errorf("%w: %w", stt.ErrTransport, err)
	default:
		return &stt.ServiceError{Code: int(st.Code()), Message: st.Message()}
	}
}

// Run connects, runs the sender and receiver until both return, and closes
// the session.
func (s *Session) Run(ctx context.Context) error {
	if err := s.Connect(ctx); err != nil {
		s.Close()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.RunSender(gctx) })
	g.Go(func() error { return s.RunReceiver(gctx) })
	err := g.Wait()

	s.Close()
	return err
}

// Close cancels the stream. It can be called any number of times.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		state := s.lifecycle.Close()
		reason := stt.Reason(s.lifecycle.Cause())
		if !s.started.IsZero() {
			s.metrics.RecordSessionEnd(reason, time.Since(s.started).Seconds())
		}
		s.logger.Info().Str("state", state.String()).Str("reason", reason).Msg("Session closed")
	})
	return nil
}
