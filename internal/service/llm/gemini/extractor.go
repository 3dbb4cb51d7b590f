// Package gemini extracts call records with Gemini structured output.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"asr-call-monitor/internal/service/monitor"
)

// Name identifies this backend in logs and metrics.
const Name = "gemini"

// ErrEmptyResponse is returned when no candidate carries text.
var ErrEmptyResponse = errors.New("empty response")

// generator is the part of *genai.GenerativeModel the extractor uses.
type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Extractor implements monitor.Extractor.
type Extractor struct {
	model generator
	close func() error
}

// New connects to the Gemini API with an API key.
func New(ctx context.Context, apiKey, model string) (*Extractor, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Extractor{model: configure(client.GenerativeModel(model)), close: client.Close}, nil
}

func configure(m *genai.GenerativeModel) *genai.GenerativeModel {
	m.SetTemperature(0)
	m.ResponseMIMEType = "application/json"
	m.ResponseSchema = responseSchema()
	return m
}

func responseSchema() *genai.Schema {
	field := func(desc string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeString, Nullable: true, Description: desc}
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"caller_name":   field("Name of the caller"),
			"location":      field("Location of the incident"),
			"case_category": field("Category of the case, for example theft or assault"),
			"description":   field("Description of the incident, less than 30 Chinese characters"),
		},
	}
}

func (e *Extractor) Name() string { return Name }

// Extract asks the model for an updated record.
func (e *Extractor) Extract(ctx context.Context, current monitor.CallRecord, conversation string) (monitor.CallRecord, error) {
	resp, err := e.model.GenerateContent(ctx, genai.Text(monitor.Prompt(current, conversation)))
	if err != nil {
		return monitor.CallRecord{}, fmt.Errorf("generate content: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		return monitor.CallRecord{}, ErrEmptyResponse
	}
	return monitor.DecodeCallRecord(text)
}

// Close releases the client.
func (e *Extractor) Close() error {
	if e.close == nil {
		return nil
	}
	return e.close()
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return sb.String()
}
