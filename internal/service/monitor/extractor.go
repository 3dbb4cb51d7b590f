package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Extractor is the inference call: given the current record and the full
// conversation, it returns an updated record.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, current CallRecord, conversation string) (CallRecord, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, current CallRecord, conversation string) (CallRecord, error)

func (f ExtractorFunc) Name() string { return "func" }

func (f ExtractorFunc) Extract(ctx context.Context, current CallRecord, conversation string) (CallRecord, error) {
	return f(ctx, current, conversation)
}

const promptTemplate = `You will be given a conversation of a police call between a police officer and a caller.
Extract the key information described by the JSON schema below.

The call is ongoing. Update the previously collected object using the full conversation,
and fill in as much detail as the conversation supports. If nothing new was said,
return the current object unchanged. Use null for anything still unknown.

JSON schema:
%s

Currently collected object:
%s

Full conversation:
%s
`

// Schema describes the response object. Backends with structured output
// pass it to the model; it is also embedded in the prompt.
const Schema = `{
  "type": "object",
  "properties": {
    "caller_name":   {"type": ["string", "null"], "description": "Name of the caller"},
    "location":      {"type": ["string", "null"], "description": "Location of the incident"},
    "case_category": {"type": ["string", "null"], "description": "Category of the case, for example theft or assault"},
    "description":   {"type": ["string", "null"], "description": "Description of the incident, less than 30 Chinese characters"}
  }
}`

// Prompt renders the extraction prompt.
func Prompt(current CallRecord, conversation string) string {
	return fmt.Sprintf(promptTemplate, Schema, current.JSON(), conversation)
}

// ErrNoJSON is returned when a model response carries no JSON object.
var ErrNoJSON = errors.New("no JSON object in response")

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// DecodeCallRecord parses a model response. It tolerates reasoning blocks,
// code fences and prose around the object, and null fields.
func DecodeCallRecord(content string) (CallRecord, error) {
	s := thinkBlock.ReplaceAllString(content, "")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return CallRecord{}, ErrNoJSON
	}

	var raw struct {
		CallerName   *string `json:"caller_name"`
		Location     *string `json:"location"`
		CaseCategory *string `json:"case_category"`
		Description  *string `json:"description"`
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), &raw); err != nil {
		return CallRecord{}, fmt.Errorf("decode call record: %w", err)
	}

	deref := func(p *string) string {
		if p == nil {
			return ""
		}
		return strings.TrimSpace(*p)
	}
	return CallRecord{
		CallerName:   deref(raw.CallerName),
		Location:     deref(raw.Location),
		CaseCategory: deref(raw.CaseCategory),
		Description:  deref(raw.Description),
	}, nil
}
