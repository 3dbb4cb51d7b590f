package tencent

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"asr-call-monitor/internal/observability/metrics"
	"asr-call-monitor/internal/queue"
	"asr-call-monitor/internal/service/session"
	"asr-call-monitor/internal/service/stt"
)

type written struct {
	kind int
	data []byte
}

// fakeConn replays scripted server messages and records writes.
type fakeConn struct {
	inbox chan []byte

	mu      sync.Mutex
	writes  []written
	closed  chan struct{}
	closes  int
	once    sync.Once
	failOn  int // fail the n-th write (1-based), 0 never
	onWrite func(written)
}

func newFakeConn(msgs ...string) *fakeConn {
	c := &fakeConn{
		inbox:  make(chan []byte, 64),
		closed: make(chan struct{}),
	}
	for _, m := range msgs {
		c.inbox <- []byte(m)
	}
	return c
}

func (c *fakeConn) push(msg string) { c.inbox <- []byte(msg) }

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case m := <-c.inbox:
		return websocket.TextMessage, m, nil
	case <-c.closed:
		return 0, nil, io.ErrUnexpectedEOF
	}
}

func (c *fakeConn) WriteMessage(kind int, data []byte) error {
	c.mu.Lock()
	w := written{kind, append([]byte(nil), data...)}
	c.writes = append(c.writes, w)
	n := len(c.writes)
	hook := c.onWrite
	c.mu.Unlock()

	if c.failOn > 0 && n >= c.failOn {
		return errors.New("broken pipe")
	}
	if hook != nil {
		hook(w)
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) Writes() []written {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]written(nil), c.writes...)
}

type fakeDialer struct {
	conn *fakeConn
	err  error
	url  string
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Conn, error) {
	d.url = url
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

const ack = `{"code":0,"message":"success","voice_id":"v"}`

type fixture struct {
	sess       *Session
	conn       *fakeConn
	dialer     *fakeDialer
	frames     *queue.FIFO[stt.Frame]
	utterances *queue.FIFO[string]
	metrics    *metrics.Metrics
}

func newFixture(conn *fakeConn, opts ...Option) *fixture {
	f := &fixture{
		conn:       conn,
		dialer:     &fakeDialer{conn: conn},
		frames:     queue.New[stt.Frame](8),
		utterances: queue.New[string](8),
		metrics:    metrics.NewMetrics(prometheus.NewRegistry()),
	}
	opts = append([]Option{WithDialer(f.dialer), WithMetrics(f.metrics), WithSessionID("sess-test")}, opts...)
	f.sess = New(Config{VADSilenceMs: 1000}, fixedSigner("secret"), f.frames, f.utterances, opts...)
	return f
}

func (f *fixture) received() []string {
	var out []string
	for !f.utterances.Empty() {
		text, _ := f.utterances.Get(context.Background())
		f.utterances.Done()
		out = append(out, text)
	}
	return out
}

func TestSession_ConnectAuthenticated(t *testing.T) {
	f := newFixture(newFakeConn(ack))

	if err := f.sess.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.sess.State() != session.StateAuthenticated {
		t.Errorf("expected StateAuthenticated, got %v", f.sess.State())
	}
	if f.dialer.url != f.sess.Endpoint().String() {
		t.Errorf("dialed %s, expected the signed endpoint", f.dialer.url)
	}
	if err := VerifyAt("secret", f.dialer.url, time.Unix(1700000001, 0)); err != nil {
		t.Errorf("dialed url does not verify: %v", err)
	}
}

func TestSession_ConnectRejected(t *testing.T) {
	f := newFixture(newFakeConn(`{"code":4002,"message":"auth failed"}`))

	err := f.sess.Connect(context.Background())

	var authErr *stt.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if authErr.Code != 4002 || authErr.Message != "auth failed" {
		t.Errorf("unexpected auth error %+v", authErr)
	}
	if f.sess.State() != session.StateFailed {
		t.Errorf("expected StateFailed, got %v", f.sess.State())
	}
	if got := testutil.ToFloat64(f.metrics.AuthFailures); got != 1 {
		t.Errorf("expected 1 auth failure, got %v", got)
	}

	f.sess.Close()
	f.sess.Close()
	if f.conn.closes != 1 {
		t.Errorf("expected connection released once, got %d", f.conn.closes)
	}
	if f.sess.State() != session.StateFailed {
		t.Errorf("expected FAILED to survive Close, got %v", f.sess.State())
	}
}

func TestSession_ConnectMalformedHandshake(t *testing.T) {
	f := newFixture(newFakeConn(`<html>`))

	var authErr *stt.AuthError
	if err := f.sess.Connect(context.Background()); !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
}

func TestSession_ConnectDialError(t *testing.T) {
	f := newFixture(nil)
	f.dialer.err = errors.New("connection refused")

	err := f.sess.Connect(context.Background())
	if !errors.Is(err, stt.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if f.sess.State() != session.StateFailed {
		t.Errorf("expected StateFailed, got %v", f.sess.State())
	}
	f.sess.Close()
}

func TestSession_ConnectHandshakeTimeout(t *testing.T) {
	f := newFixture(newFakeConn())
	f.sess.cfg.HandshakeTimeout = 20 * time.Millisecond

	err := f.sess.Connect(context.Background())
	if !errors.Is(err, stt.ErrTransport) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected transport deadline error, got %v", err)
	}
}

func TestSession_SenderSendsPayloadsThenEnd(t *testing.T) {
	f := newFixture(newFakeConn(ack))
	ctx := context.Background()
	if err := f.sess.Connect(ctx); err != nil {
		t.Fatal(err)
	}

	f.frames.Put(ctx, stt.Payload([]byte("f1")))
	f.frames.Put(ctx, stt.Payload([]byte("f2")))
	f.frames.Put(ctx, stt.EndOfInput())
	f.frames.Put(ctx, stt.Payload([]byte("late")))

	if err := f.sess.RunSender(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	writes := f.conn.Writes()
	if len(writes) != 3 {
		t.Fatalf("expected 3 writes, got %d", len(writes))
	}
	for i, want := range []string{"f1", "f2"} {
		if writes[i].kind != websocket.BinaryMessage || string(writes[i].data) != want {
			t.Errorf("write %d: expected binary %q, got %d %q", i, want, writes[i].kind, writes[i].data)
		}
	}
	if writes[2].kind != websocket.TextMessage || string(writes[2].data) != `{"type":"end"}` {
		t.Errorf("expected end of stream control frame, got %d %q", writes[2].kind, writes[2].data)
	}

	if f.frames.Unfinished() != 1 {
		t.Errorf("expected only the frame after END to stay unacknowledged, got %d", f.frames.Unfinished())
	}
	if got := testutil.ToFloat64(f.metrics.AudioFramesSent); got != 2 {
		t.Errorf("expected 2 frames counted, got %v", got)
	}
	if f.sess.State() != session.StateClosing {
		t.Errorf("expected StateClosing, got %v", f.sess.State())
	}
}

func TestSession_SenderWriteError(t *testing.T) {
	conn := newFakeConn(ack)
	conn.failOn = 2
	f := newFixture(conn)
	ctx := context.Background()
	f.sess.Connect(ctx)

	f.frames.Put(ctx, stt.Payload([]byte("f1")))
	f.frames.Put(ctx, stt.Payload([]byte("f2")))

	err := f.sess.RunSender(ctx)
	if !errors.Is(err, stt.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if f.frames.Unfinished() != 0 {
		t.Errorf("expected failed frame to be acknowledged, got %d unfinished", f.frames.Unfinished())
	}
}

func TestSession_ReceiverForwardsStable(t *testing.T) {
	conn := newFakeConn(ack,
		`{"code":0,"result":{"voice_text_str":"hel","slice_type":0},"final":0}`,
		`{"code":0,"result":{"voice_text_str":"hell","slice_type":1},"final":0}`,
		`{"code":0,"result":{"voice_text_str":"hello","slice_type":2},"final":0}`,
	)
	f := newFixture(conn)
	ctx := context.Background()
	f.sess.Connect(ctx)

	done := make(chan error, 1)
	go func() { done <- f.sess.RunReceiver(ctx) }()

	text, err := f.utterances.Get(ctx)
	if err != nil || text != "hello" {
		t.Fatalf("expected hello, got %q, %v", text, err)
	}
	f.utterances.Done()

	select {
	case err := <-done:
		t.Fatalf("receiver returned after a non-final stable event: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	conn.push(`{"code":0,"result":{"voice_text_str":"world","slice_type":2},"final":1}`)
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.received(); len(got) != 1 || got[0] != "world" {
		t.Errorf("expected [world], got %v", got)
	}
	if got := testutil.ToFloat64(f.metrics.EventsReceived.WithLabelValues("start")); got != 1 {
		t.Errorf("expected 1 start event, got %v", got)
	}
}

func TestSession_ReceiverStopsAtFinal(t *testing.T) {
	conn := newFakeConn(ack,
		`{"code":0,"result":{"voice_text_str":"bye","slice_type":1},"final":1}`,
		`{"code":0,"result":{"voice_text_str":"ghost","slice_type":2},"final":0}`,
	)
	f := newFixture(conn)
	ctx := context.Background()
	f.sess.Connect(ctx)

	if err := f.sess.RunReceiver(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := f.received()
	if len(got) != 1 || got[0] != "bye" {
		t.Errorf("expected final text forwarded exactly once, got %v", got)
	}
	if len(conn.inbox) != 1 {
		t.Error("expected event after final to stay unread")
	}
	if f.sess.State() != session.StateClosing {
		t.Errorf("expected StateClosing, got %v", f.sess.State())
	}
}

func TestSession_ReceiverSkipsMalformed(t *testing.T) {
	conn := newFakeConn(ack,
		`not json at all`,
		`{"code":0,"result":{"voice_text_str":7,"slice_type":2},"final":0}`,
		`{"code":0,"result":{"voice_text_str":"ok","slice_type":2},"final":1}`,
	)
	f := newFixture(conn)
	ctx := context.Background()
	f.sess.Connect(ctx)

	if err := f.sess.RunReceiver(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.received(); len(got) != 1 || got[0] != "ok" {
		t.Errorf("expected [ok], got %v", got)
	}
	if got := testutil.ToFloat64(f.metrics.EventsMalformed); got != 2 {
		t.Errorf("expected 2 malformed messages counted, got %v", got)
	}
}

func TestSession_ReceiverServiceError(t *testing.T) {
	f := newFixture(newFakeConn(ack, `{"code":4008,"message":"client idle timeout"}`))
	ctx := context.Background()
	f.sess.Connect(ctx)

	err := f.sess.RunReceiver(ctx)

	var svcErr *stt.ServiceError
	if !errors.As(err, &svcErr) || svcErr.Code != 4008 {
		t.Fatalf("expected ServiceError 4008, got %v", err)
	}
	if f.sess.State() != session.StateFailed {
		t.Errorf("expected StateFailed, got %v", f.sess.State())
	}
}

func TestSession_ReceiverTransportClosed(t *testing.T) {
	conn := newFakeConn(ack)
	f := newFixture(conn)
	ctx := context.Background()
	f.sess.Connect(ctx)

	conn.Close()
	err := f.sess.RunReceiver(ctx)
	if !errors.Is(err, stt.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if stt.Reason(err) != stt.ReasonTransport {
		t.Errorf("expected transport reason, got %s", stt.Reason(err))
	}
}

func TestSession_ReceiverCanceled(t *testing.T) {
	f := newFixture(newFakeConn(ack))
	ctx, cancel := context.WithCancel(context.Background())
	f.sess.Connect(ctx)

	done := make(chan error, 1)
	go func() { done <- f.sess.RunReceiver(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("receiver did not stop after cancellation")
	}
}

func TestSession_Run(t *testing.T) {
	conn := newFakeConn(ack)
	// The fake server answers once it has seen the end of stream frame.
	conn.onWrite = func(w written) {
		if w.kind == websocket.TextMessage {
			conn.push(`{"code":0,"result":{"voice_text_str":"hello","slice_type":2},"final":0}`)
			conn.push(`{"code":0,"result":{"voice_text_str":"world","slice_type":2},"final":1}`)
		}
	}
	f := newFixture(conn)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f.frames.Put(ctx, stt.Payload(make([]byte, 640)))
	}
	f.frames.Put(ctx, stt.EndOfInput())

	if err := f.sess.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := f.received(); len(got) != 2 || got[0] != "hello" || got[1] != "world" {
		t.Errorf("expected [hello world], got %v", got)
	}
	if f.sess.State() != session.StateClosed {
		t.Errorf("expected StateClosed, got %v", f.sess.State())
	}
	if f.conn.closes != 1 {
		t.Errorf("expected one connection close, got %d", f.conn.closes)
	}
	if got := testutil.ToFloat64(f.metrics.SessionsEnded.WithLabelValues(stt.ReasonFinal)); got != 1 {
		t.Errorf("expected one session ended with reason final, got %v", got)
	}
}

func TestSession_RunFinalInsideResult(t *testing.T) {
	conn := newFakeConn(ack)
	conn.onWrite = func(w written) {
		if w.kind == websocket.TextMessage {
			conn.push(`{"result":{"voice_text_str":"hello","slice_type":2,"final":0}}`)
			conn.push(`{"result":{"voice_text_str":"world","slice_type":2,"final":1}}`)
		}
	}
	f := newFixture(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	f.frames.Put(ctx, stt.Payload(make([]byte, 640)))
	f.frames.Put(ctx, stt.EndOfInput())

	err := f.sess.Run(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stt.Reason(err) != stt.ReasonFinal {
		t.Errorf("expected reason final, got %s", stt.Reason(err))
	}
	if got := f.received(); len(got) != 2 || got[0] != "hello" || got[1] != "world" {
		t.Errorf("expected [hello world], got %v", got)
	}
	if f.sess.State() != session.StateClosed {
		t.Errorf("expected StateClosed, got %v", f.sess.State())
	}
	if got := testutil.ToFloat64(f.metrics.SessionsEnded.WithLabelValues(stt.ReasonFinal)); got != 1 {
		t.Errorf("expected one session ended with reason final, got %v", got)
	}
}

func TestSession_ReceiverForwardsEmptyFinal(t *testing.T) {
	f := newFixture(newFakeConn(ack,
		`{"result":{"voice_text_str":"hi","slice_type":2},"final":0}`,
		`{"code":0,"message_id":"m","final":1}`,
	))
	ctx := context.Background()
	f.sess.Connect(ctx)

	if err := f.sess.RunReceiver(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.received(); len(got) != 2 || got[0] != "hi" || got[1] != "" {
		t.Errorf("expected [hi, \"\"], got %q", got)
	}
}

func TestSession_RunAuthFailureSkipsStreaming(t *testing.T) {
	f := newFixture(newFakeConn(`{"code":4001,"message":"bad"}`))
	f.frames.Put(context.Background(), stt.Payload([]byte("x")))

	err := f.sess.Run(context.Background())
	if stt.Reason(err) != stt.ReasonAuth {
		t.Fatalf("expected auth failure, got %v", err)
	}
	if len(f.conn.Writes()) != 0 {
		t.Error("expected no writes after rejected handshake")
	}
	if f.conn.closes != 1 {
		t.Errorf("expected connection released, got %d closes", f.conn.closes)
	}
}
