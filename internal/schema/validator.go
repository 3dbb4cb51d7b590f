// Package schema checks outbound events before they are published.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"asr-call-monitor/internal/models"
)

// ErrInvalidEvent is wrapped by every validation failure.
var ErrInvalidEvent = errors.New("invalid event")

type Validator struct {
	logger zerolog.Logger
}

func New(logger zerolog.Logger) *Validator {
	return &Validator{logger: logger}
}

// Validate checks the required fields of a known event type.
func (v *Validator) Validate(event any) error {
	var missing []string
	require := func(name, val string) {
		if strings.TrimSpace(val) == "" {
			missing = append(missing, name)
		}
	}

	var eventType string
	switch e := event.(type) {
	case models.TranscriptPartial:
		eventType = e.EventType
		require("eventId", e.EventID)
		require("sessionId", e.SessionID)
		if e.EventType != models.EventTranscriptPartial {
			return fmt.Errorf("%w: unexpected eventType %q", ErrInvalidEvent, e.EventType)
		}
	case models.TranscriptUtterance:
		eventType = e.EventType
		require("eventId", e.EventID)
		require("sessionId", e.SessionID)
		require("text", e.Text)
		if e.EventType != models.EventTranscriptUtterance {
			return fmt.Errorf("%w: unexpected eventType %q", ErrInvalidEvent, e.EventType)
		}
		if e.EndMs < e.StartMs {
			return fmt.Errorf("%w: endMs %d before startMs %d", ErrInvalidEvent, e.EndMs, e.StartMs)
		}
	case models.CallRecordSnapshot:
		eventType = e.EventType
		require("eventId", e.EventID)
		require("sessionId", e.SessionID)
		require("callerName", e.CallerName)
		require("location", e.Location)
		require("caseCategory", e.CaseCategory)
		require("description", e.Description)
		if e.EventType != models.EventCallRecord {
			return fmt.Errorf("%w: unexpected eventType %q", ErrInvalidEvent, e.EventType)
		}
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrInvalidEvent, event)
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s missing %s", ErrInvalidEvent, eventType, strings.Join(missing, ", "))
	}
	v.logger.Debug().Str("eventType", eventType).Msg("Event validated")
	return nil
}
