// Package mock provides a local recognizer server for development and tests.
// It speaks the same signed websocket protocol as the hosted service: it
// verifies the endpoint signature, acknowledges the handshake, emits partial
// and stable events as audio arrives, and sends the final event after the
// end-of-stream control frame.
package mock

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"asr-call-monitor/internal/observability/logging"
	"asr-call-monitor/internal/service/session"
	"asr-call-monitor/internal/service/stt"
	"asr-call-monitor/internal/service/stt/tencent"
)

// Utterance is a scripted utterance with progressive partial transcripts.
type Utterance struct {
	Partials []string // sent as slice 0, then slice 1
	Final    string   // sent as slice 2
}

// DefaultUtterances is a short emergency call.
var DefaultUtterances = []Utterance{
	{
		Partials: []string{"Hello", "Hello I need"},
		Final:    "Hello I need the police",
	},
	{
		Partials: []string{"My name is", "My name is Wang"},
		Final:    "My name is Wang Lei",
	},
	{
		Partials: []string{"Someone broke", "Someone broke into my car"},
		Final:    "Someone broke into my car outside the building",
	},
	{
		Partials: []string{"I'm at", "I'm at 88 Nanjing"},
		Final:    "I'm at 88 Nanjing Road near the subway exit",
	},
}

// Handshake codes returned by the server.
const (
	CodeOK           = 0
	CodeBadSignature = 4002
)

// Stats counts what one server has received.
type Stats struct {
	Sessions    int
	Frames      int
	Bytes       int
	EndReceived int
}

// Server is an http.Handler serving the recognizer websocket.
type Server struct {
	// SecretKey verifies endpoint signatures. Empty skips verification.
	SecretKey string

	// Utterances are emitted in order. Defaults to DefaultUtterances.
	Utterances []Utterance

	// FramesPerUtterance emits the next utterance after that many audio
	// frames. Zero holds every utterance until end of stream.
	FramesPerUtterance int

	// RejectCode, when non-zero, rejects every handshake with that code.
	RejectCode int

	// DropAfterFrames, when positive, closes the connection without a final
	// event once that many frames have arrived.
	DropAfterFrames int

	Logger *zerolog.Logger

	upgrader websocket.Upgrader

	mu    sync.Mutex
	stats Stats
}

// NewServer creates a server that emits DefaultUtterances.
func NewServer(secretKey string) *Server {
	return &Server{
		SecretKey:          secretKey,
		Utterances:         DefaultUtterances,
		FramesPerUtterance: 25,
	}
}

// Stats returns a copy of the counters.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

type result struct {
	SliceType    int    `json:"slice_type"`
	Index        int    `json:"index"`
	StartTime    int64  `json:"start_time"`
	EndTime      int64  `json:"end_time"`
	VoiceTextStr string `json:"voice_text_str"`
}

type reply struct {
	Code      int     `json:"code"`
	Message   string  `json:"message"`
	VoiceID   string  `json:"voice_id,omitempty"`
	MessageID string  `json:"message_id,omitempty"`
	Result    *result `json:"result,omitempty"`
	Final     *int    `json:"final,omitempty"`
}

type controlFrame struct {
	Type string `json:"type"`
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := s.logger()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("Upgrade failed")
		return
	}
	defer conn.Close()

	voiceID := r.URL.Query().Get("voice_id")
	st := &stream{
		server:  s,
		conn:    conn,
		voiceID: voiceID,
		seq:     session.NewSequence(voiceID),
		logger:  logger.With().Str("voiceId", voiceID).Logger(),
	}

	s.mu.Lock()
	s.stats.Sessions++
	s.mu.Unlock()

	if code, msg := s.authenticate(r); code != CodeOK {
		st.write(reply{Code: code, Message: msg, VoiceID: voiceID})
		st.logger.Info().Int("code", code).Msg("Handshake rejected")
		return
	}
	if err := st.write(reply{Code: CodeOK, Message: "success", VoiceID: voiceID}); err != nil {
		return
	}

	st.serve()
}

func (s *Server) authenticate(r *http.Request) (int, string) {
	if s.RejectCode != 0 {
		return s.RejectCode, "rejected"
	}
	if s.SecretKey == "" {
		return CodeOK, ""
	}
	u := *r.URL
	u.Host = r.Host
	if err := tencent.Verify(s.SecretKey, u.String()); err != nil {
		return CodeBadSignature, err.Error()
	}
	return CodeOK, ""
}

func (s *Server) logger() zerolog.Logger {
	if s.Logger != nil {
		return *s.Logger
	}
	return logging.WithComponent("fakeasr")
}

func (s *Server) utterances() []Utterance {
	if s.Utterances == nil {
		return DefaultUtterances
	}
	return s.Utterances
}

// stream is the state of one websocket connection.
type stream struct {
	server  *Server
	conn    *websocket.Conn
	voiceID string
	seq     *session.Sequence
	logger  zerolog.Logger

	frames  int
	next    int   // next utterance to emit
	audioMs int64 // audio received so far, at 8 kHz 16-bit
}

func (st *stream) serve() {
	s := st.server
	for {
		kind, data, err := st.conn.ReadMessage()
		if err != nil {
			st.logger.Debug().Err(err).Msg("Client went away")
			return
		}

		switch kind {
		case websocket.BinaryMessage:
			st.frames++
			st.audioMs += int64(len(data)) / 16
			s.mu.Lock()
			s.stats.Frames++
			s.stats.Bytes += len(data)
			s.mu.Unlock()

			if s.DropAfterFrames > 0 && st.frames >= s.DropAfterFrames {
				st.logger.Info().Int("frames", st.frames).Msg("Dropping connection")
				return
			}
			if s.FramesPerUtterance > 0 && st.frames%s.FramesPerUtterance == 0 {
				if err := st.emit(false); err != nil {
					return
				}
			}

		case websocket.TextMessage:
			var ctl controlFrame
			if err := json.Unmarshal(data, &ctl); err != nil || ctl.Type != "end" {
				st.logger.Warn().Str("payload", string(data)).Msg("Unknown control frame")
				continue
			}
			s.mu.Lock()
			s.stats.EndReceived++
			s.mu.Unlock()

			if err := st.finish(); err != nil {
				st.logger.Debug().Err(err).Msg("Finish failed")
			}
			return
		}
	}
}

// emit sends the next utterance as partial events followed by a stable
// event. The stable event carries the final flag when last is set.
func (st *stream) emit(last bool) error {
	utts := st.server.utterances()
	if st.next >= len(utts) {
		return nil
	}
	u := utts[st.next]
	idx := st.next
	st.next++

	start := st.audioMs
	for i, p := range u.Partials {
		slice := stt.SliceStart
		if i > 0 {
			slice = stt.SliceSpeaking
		}
		if err := st.write(st.event(idx, slice, start, p, false)); err != nil {
			return err
		}
	}
	return st.write(st.event(idx, stt.SliceStable, start, u.Final, last))
}

// finish flushes the remaining utterances and sends the final event.
func (st *stream) finish() error {
	utts := st.server.utterances()
	if st.next >= len(utts) {
		final := 1
		return st.write(reply{
			Code:      CodeOK,
			Message:   "success",
			VoiceID:   st.voiceID,
			MessageID: st.seq.Next(),
			Final:     &final,
		})
	}
	for st.next < len(utts) {
		if err := st.emit(st.next == len(utts)-1); err != nil {
			return err
		}
	}
	return nil
}

func (st *stream) event(idx int, slice stt.SliceType, startMs int64, text string, last bool) reply {
	final := 0
	if last {
		final = 1
	}
	return reply{
		Code:      CodeOK,
		Message:   "success",
		VoiceID:   st.voiceID,
		MessageID: st.seq.Next(),
		Result: &result{
			SliceType:    int(slice),
			Index:        idx,
			StartTime:    startMs,
			EndTime:      st.audioMs,
			VoiceTextStr: text,
		},
		Final: &final,
	}
}

func (st *stream) write(r reply) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if err := st.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if !errors.Is(err, websocket.ErrCloseSent) {
			st.logger.Debug().Err(err).Msg("Write failed")
		}
		return err
	}
	return nil
}
