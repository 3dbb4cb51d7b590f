package tencent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"asr-call-monitor/internal/observability/logging"
	"asr-call-monitor/internal/observability/metrics"
	"asr-call-monitor/internal/queue"
	"asr-call-monitor/internal/service/session"
	"asr-call-monitor/internal/service/stt"
)

// Provider is the name this recognizer reports in logs and metrics.
const Provider = "tencent"

var endOfStream = []byte(`{"type":"end"}`)

// Conn is the subset of *websocket.Conn the session uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens the duplex connection to a signed endpoint.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}
	return conn, nil
}

// Config holds per-session settings.
type Config struct {
	VADSilenceMs     int
	HandshakeTimeout time.Duration
}

// Option customizes a Session.
type Option func(*Session)

// WithDialer replaces the default websocket dialer.
func WithDialer(d Dialer) Option {
	return func(s *Session) { s.dialer = d }
}

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

// Session is one streaming recognition session. It reads frames from the
// audio FIFO and writes completed utterance text to the utterance FIFO.
type Session struct {
	id         string
	cfg        Config
	signer     *Signer
	dialer     Dialer
	frames     *queue.FIFO[stt.Frame]
	utterances *queue.FIFO[string]
	lifecycle  *session.Lifecycle
	metrics    *metrics.Metrics
	hook       stt.EventHook
	logger     zerolog.Logger

	conn     Conn
	endpoint SignedEndpoint
	started  time.Time

	releaseOnce sync.Once
	closeOnce   sync.Once
}

// New creates a session in the IDLE state.
func New(cfg Config, signer *Signer, frames *queue.FIFO[stt.Frame], utterances *queue.FIFO[string], opts ...Option) *Session {
	s := &Session{
		id:         session.NewID(),
		cfg:        cfg,
		signer:     signer,
		dialer:     WebsocketDialer{},
		frames:     frames,
		utterances: utterances,
		metrics:    metrics.DefaultMetrics,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lifecycle = session.NewLifecycle(s.id)
	s.logger = logging.WithSession("session", s.id).With().Str("sttProvider", Provider).Logger()
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() session.State { return s.lifecycle.State() }

// Lifecycle exposes the session state machine for readiness checks.
func (s *Session) Lifecycle() *session.Lifecycle { return s.lifecycle }

// Endpoint returns the endpoint used by Connect.
func (s *Session) Endpoint() SignedEndpoint { return s.endpoint }

// Connect dials the signed endpoint and reads the handshake reply.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.lifecycle.BeginConnect(); err != nil {
		return err
	}
	s.started = time.Now()
	s.metrics.RecordSessionStart()

	s.endpoint = s.signer.Build(s.cfg.VADSilenceMs)
	s.logger = logging.WithStream(s.id, s.endpoint.VoiceID, Provider)

	hsCtx := ctx
	if s.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		hsCtx, cancel = context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
		defer cancel()
	}

	conn, err := s.dialer.Dial(hsCtx, s.endpoint.String())
	if err != nil {
		err = fmt.Errorf("%w: %w", stt.ErrTransport, err)
		s.lifecycle.Fail(err)
		return err
	}
	s.conn = conn

	stop := context.AfterFunc(hsCtx, s.release)
	_, data, err := conn.ReadMessage()
	if !stop() && err == nil {
		err = hsCtx.Err()
	}
	if err != nil {
		if ctxErr := hsCtx.Err(); ctxErr != nil {
			err = ctxErr
		}
		err = fmt.Errorf("%w: handshake: %w", stt.ErrTransport, err)
		s.lifecycle.Fail(err)
		return err
	}

	code, msg := -1, "malformed handshake"
	switch m := ParseMessage(data).(type) {
	case AuthAck:
		code, msg = m.Code, m.Message
	case Recognition:
		code, msg = m.Code, m.Message
	}
	if code != 0 {
		authErr := &stt.AuthError{Code: code, Message: msg}
		s.lifecycle.Fail(authErr)
		s.metrics.RecordAuthFailure()
		s.logger.Error().Int("code", code).Str("message", msg).Msg("Handshake rejected")
		return authErr
	}

	if err := s.lifecycle.Authenticated(); err != nil {
		return err
	}
	s.logger.Info().Str("endpoint", s.endpoint.BaseURL).Msg("Session authenticated")
	return nil
}

// RunSender drains the audio FIFO into the connection. It is the only
// writer of the connection. Every frame taken is acknowledged.
func (s *Session) RunSender(ctx context.Context) error {
	if err := s.lifecycle.BeginStreaming(); err != nil {
		return err
	}

	for {
		frame, err := s.frames.Get(ctx)
		if errors.Is(err, queue.ErrClosed) {
			return s.sendEnd()
		}
		if err != nil {
			return err
		}

		if frame.IsEnd() {
			err := s.sendEnd()
			s.frames.Done()
			return err
		}

		err = s.conn.WriteMessage(websocket.BinaryMessage, frame.Data())
		s.frames.Done()
		if err != nil {
			err = fmt.Errorf("%w: write audio: %w", stt.ErrTransport, err)
			s.lifecycle.Fail(err)
			return err
		}
		s.metrics.RecordAudioSent(len(frame.Data()))
	}
}

func (s *Session) sendEnd() error {
	if err := s.conn.WriteMessage(websocket.TextMessage, endOfStream); err != nil {
		err = fmt.Errorf("%w: write end of stream: %w", stt.ErrTransport, err)
		s.lifecycle.Fail(err)
		return err
	}
	s.metrics.RecordEndOfStream()
	s.lifecycle.BeginClosing()
	s.logger.Debug().Msg("End of stream sent")
	return nil
}

// RunReceiver reads recognition events until the final event arrives or
// the connection closes. Completed utterance text goes to the utterance FIFO.
func (s *Session) RunReceiver(ctx context.Context) error {
	if err := s.lifecycle.BeginStreaming(); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, s.release)
	defer stop()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				s.lifecycle.Fail(ctxErr)
				return ctxErr
			}
			err = fmt.Errorf("%w: %w", stt.ErrTransport, err)
			s.lifecycle.Fail(err)
			return err
		}

		switch m := ParseMessage(data).(type) {
		case Malformed:
			s.metrics.RecordMalformed()
			s.logger.Warn().Err(m.Err).Int("bytes", len(m.Raw)).Msg("Dropping malformed message")

		case AuthAck:
			if m.Code != 0 {
				return s.serviceFailure(m.Code, m.Message)
			}
			s.logger.Debug().Str("message", m.Message).Msg("Status message")

		case Recognition:
			if m.Code != 0 {
				return s.serviceFailure(m.Code, m.Message)
			}
			if len(m.Defaulted) > 0 {
				s.metrics.RecordMalformed()
				s.logger.Warn().Strs("fields", m.Defaulted).Msg("Defaulted unreadable fields")
				if !m.Event.Final && !m.TextReadable() {
					continue
				}
			}

			done, err := s.handleEvent(ctx, m.Event)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

// handleEvent forwards the text of every stable or final event, empty or
// not, and reports whether the event was the final one.
func (s *Session) handleEvent(ctx context.Context, ev stt.Event) (bool, error) {
	s.metrics.RecordEvent(ev.Slice.String())
	if s.hook != nil {
		s.hook(ctx, ev)
	}

	if ev.Completed() {
		if err := s.utterances.Put(ctx, ev.Text); err != nil {
			return false, err
		}
		s.metrics.RecordUtterance()
		s.logger.Info().
			Int("index", ev.Index).
			Int64("startMs", ev.StartMs).
			Int64("endMs", ev.EndMs).
			Bool("final", ev.Final).
			Str("text", ev.Text).
			Msg("Utterance")
	}

	if ev.Final {
		s.lifecycle.BeginClosing()
		s.logger.Info().Msg("Final event received")
		return true, nil
	}
	return false, nil
}

func (s *Session) serviceFailure(code int, msg string) error {
	err := &stt.ServiceError{Code: code, Message: msg}
	s.lifecycle.Fail(err)
	s.logger.Error().Int("code", code).Str("message", msg).Msg("Recognizer reported an error")
	return err
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

// Close releases the connection. It can be called any number of times.
func (s *Session) Close() error {
	s.release()
	s.closeOnce.Do(func() {
		state := s.lifecycle.Close()
		reason := stt.Reason(s.lifecycle.Cause())
		var elapsed float64
		if !s.started.IsZero() {
			elapsed = time.Since(s.started).Seconds()
			s.metrics.RecordSessionEnd(reason, elapsed)
		}
		s.logger.Info().
			Str("state", state.String()).
			Str("reason", reason).
			Float64("durationSec", elapsed).
			Msg("Session closed")
	})
	return nil
}

func (s *Session) release() {
	s.releaseOnce.Do(func() {
		if s.conn != nil {
			if err := s.conn.Close(); err != nil {
				s.logger.Debug().Err(err).Msg("Connection close")
			}
		}
	})
}
