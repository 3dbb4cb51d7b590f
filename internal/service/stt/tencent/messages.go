package tencent

import (
	"encoding/json"
	"fmt"
	"strconv"

	"asr-call-monitor/internal/service/stt"
)

// Message is one inbound server message. It is one of AuthAck,
// Recognition or Malformed.
type Message interface {
	message()
}

// AuthAck is a status message without a recognition result: the handshake
// reply, or a mid-stream status such as an error report.
type AuthAck struct {
	Code    int
	Message string
	VoiceID string
}

// Recognition carries one recognition event.
type Recognition struct {
	Code    int
	Message string
	Event   stt.Event

	// Defaulted lists fields that were present but unreadable and were
	// replaced by their zero value.
	Defaulted []string
}

// TextReadable reports whether the recognized text was read as sent rather
// than defaulted.
func (r Recognition) TextReadable() bool {
	for _, f := range r.Defaulted {
		if f == "result" || f == "result.voice_text_str" {
			return false
		}
	}
	return true
}

// Malformed is a payload that could not be read as a JSON object.
type Malformed struct {
	Raw []byte
	Err error
}

func (AuthAck) message()     {}
func (Recognition) message() {}
func (Malformed) message()   {}

// ParseMessage decodes a server message. It never fails: unreadable
// payloads come back as Malformed, unreadable fields default to zero.
func ParseMessage(raw []byte) Message {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return Malformed{Raw: raw, Err: err}
	}
	if top == nil {
		return Malformed{Raw: raw, Err: fmt.Errorf("not a JSON object")}
	}

	f := fields{raw: top}
	code := f.int("code")
	msg := f.string("message")
	voiceID := f.string("voice_id")

	_, hasResult := top["result"]
	_, hasFinal := top["final"]
	_, hasMessageID := top["message_id"]
	if !hasResult && !hasFinal && !hasMessageID {
		return AuthAck{Code: code, Message: msg, VoiceID: voiceID}
	}

	ev := stt.Event{
		VoiceID:   voiceID,
		MessageID: f.string("message_id"),
		Final:     f.int("final") == 1,
	}

	if hasResult {
		var result map[string]json.RawMessage
		if err := json.Unmarshal(top["result"], &result); err != nil {
			f.defaulted = append(f.defaulted, "result")
		} else {
			r := fields{raw: result, prefix: "result."}
			ev.Text = r.string("voice_text_str")
			ev.StartMs = int64(r.int("start_time"))
			ev.EndMs = int64(r.int("end_time"))
			ev.Slice = stt.SliceType(r.int("slice_type"))
			ev.Index = r.int("index")
			// final may sit inside result instead of at the top level.
			ev.Final = ev.Final || r.int("final") == 1
			f.defaulted = append(f.defaulted, r.defaulted...)
		}
	}

	return Recognition{Code: code, Message: msg, Event: ev, Defaulted: f.defaulted}
}

// fields reads typed values out of a decoded object, recording any field
// whose value has the wrong type.
type fields struct {
	raw       map[string]json.RawMessage
	prefix    string
	defaulted []string
}

func (f *fields) string(key string) string {
	v, ok := f.raw[key]
	if !ok || string(v) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		f.defaulted = append(f.defaulted, f.prefix+key)
		return ""
	}
	return s
}

// int accepts JSON numbers and numeric strings.
func (f *fields) int(key string) int {
	v, ok := f.raw[key]
	if !ok || string(v) == "null" {
		return 0
	}
	var n float64
	if err := json.Unmarshal(v, &n); err == nil {
		return int(n)
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		if i, err := strconv.Atoi(s); err == nil {
			return i
		}
	}
	f.defaulted = append(f.defaulted, f.prefix+key)
	return 0
}
