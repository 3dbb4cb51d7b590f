// Package models defines the events published for a monitored call.
package models

import (
	"time"

	"asr-call-monitor/internal/service/monitor"
	"asr-call-monitor/internal/service/stt"
)

// Event types carried in the eventType field.
const (
	EventTranscriptPartial   = "call.transcript.partial"
	EventTranscriptUtterance = "call.transcript.utterance"
	EventCallRecord          = "call.record.updated"
)

// TranscriptPartial is an interim recognition result.
type TranscriptPartial struct {
	EventType string `json:"eventType"`
	EventID   string `json:"eventId"`
	SessionID string `json:"sessionId"`
	VoiceID   string `json:"voiceId,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Index     int    `json:"index"`
	Slice     string `json:"slice"`
	Text      string `json:"text"`
}

// TranscriptUtterance is a completed utterance, as handed to the monitor.
type TranscriptUtterance struct {
	EventType string `json:"eventType"`
	EventID   string `json:"eventId"`
	SessionID string `json:"sessionId"`
	VoiceID   string `json:"voiceId,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Index     int    `json:"index"`
	Text      string `json:"text"`
	StartMs   int64  `json:"startMs"`
	EndMs     int64  `json:"endMs"`
	Final     bool   `json:"final"`
}

// CallRecordSnapshot is the rendered record after an extraction.
type CallRecordSnapshot struct {
	EventType    string `json:"eventType"`
	EventID      string `json:"eventId"`
	SessionID    string `json:"sessionId"`
	Timestamp    int64  `json:"timestamp"`
	Utterances   int    `json:"utterances"`
	CallerName   string `json:"callerName"`
	Location     string `json:"location"`
	CaseCategory string `json:"caseCategory"`
	Description  string `json:"description"`
}

// NewTranscriptPartial builds a partial event from a recognition event.
func NewTranscriptPartial(eventID, sessionID string, ev stt.Event, at time.Time) TranscriptPartial {
	return TranscriptPartial{
		EventType: EventTranscriptPartial,
		EventID:   eventID,
		SessionID: sessionID,
		VoiceID:   ev.VoiceID,
		Timestamp: at.UnixMilli(),
		Index:     ev.Index,
		Slice:     ev.Slice.String(),
		Text:      ev.Text,
	}
}

// NewTranscriptUtterance builds an utterance event from a completed recognition event.
func NewTranscriptUtterance(eventID, sessionID string, ev stt.Event, at time.Time) TranscriptUtterance {
	return TranscriptUtterance{
		EventType: EventTranscriptUtterance,
		EventID:   eventID,
		SessionID: sessionID,
		VoiceID:   ev.VoiceID,
		Timestamp: at.UnixMilli(),
		Index:     ev.Index,
		Text:      ev.Text,
		StartMs:   ev.StartMs,
		EndMs:     ev.EndMs,
		Final:     ev.Final,
	}
}

// NewCallRecordSnapshot builds a record event from a monitor update.
func NewCallRecordSnapshot(eventID string, u monitor.Update) CallRecordSnapshot {
	return CallRecordSnapshot{
		EventType:    EventCallRecord,
		EventID:      eventID,
		SessionID:    u.SessionID,
		Timestamp:    u.At.UnixMilli(),
		Utterances:   u.Utterances,
		CallerName:   u.Snapshot.CallerName,
		Location:     u.Snapshot.Location,
		CaseCategory: u.Snapshot.CaseCategory,
		Description:  u.Snapshot.Description,
	}
}
