// Package stt defines the audio frame, recognition event and transcriber
// contracts shared by the streaming recognizer sessions.
package stt

import (
	"context"
	"fmt"
)

// Frame is one element of the audio FIFO: either a PCM payload or the
// end-of-input marker.
type Frame struct {
	data []byte
	end  bool
}

// Payload wraps raw 16-bit little-endian PCM bytes.
func Payload(pcm []byte) Frame {
	return Frame{data: pcm}
}

// EndOfInput marks the end of the audio stream.
func EndOfInput() Frame {
	return Frame{end: true}
}

// IsEnd reports whether f is the end-of-input marker.
func (f Frame) IsEnd() bool { return f.end }

// Data returns the PCM payload. It is nil for the end-of-input marker.
func (f Frame) Data() []byte { return f.data }

// SliceType is the recognizer's stage for an utterance.
type SliceType int

const (
	SliceStart    SliceType = 0 // utterance began, partial text
	SliceSpeaking SliceType = 1 // utterance in progress, partial text
	SliceStable   SliceType = 2 // utterance ended, text is stable
)

func (s SliceType) String() string {
	switch s {
	case SliceStart:
		return "start"
	case SliceSpeaking:
		return "speaking"
	case SliceStable:
		return "stable"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Event is one parsed recognition result.
type Event struct {
	Text      string
	StartMs   int64
	EndMs     int64
	Slice     SliceType
	Final     bool
	Index     int
	VoiceID   string
	MessageID string
}

// Completed reports whether the event carries text that must be handed on:
// a stable end of utterance, or the final event of the session.
func (e Event) Completed() bool {
	return e.Slice == SliceStable || e.Final
}

// Transcriber is a streaming recognizer session driven by the pipeline.
//
// Connect must succeed before RunSender and RunReceiver are started; the two
// loops then run concurrently and Close releases the connection once both
// have returned.
type Transcriber interface {
	// Connect opens and authenticates the session.
	Connect(ctx context.Context) error

	// RunSender drains the audio FIFO into the connection until end of input.
	RunSender(ctx context.Context) error

	// RunReceiver reads recognition events until the final event or closure.
	RunReceiver(ctx context.Context) error

	// Close ends the session and releases resources.
	Close() error
}

// EventHook observes every parsed recognition event, partial ones included.
type EventHook func(ctx context.Context, ev Event)
