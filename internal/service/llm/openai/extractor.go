// Package openai extracts call records with an OpenAI-compatible chat
// completions endpoint. Local Ollama servers expose one under /v1.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"asr-call-monitor/internal/service/monitor"
)

// Name identifies this backend in logs and metrics.
const Name = "openai"

var (
	// ErrPermanent marks failures that will not succeed on retry.
	ErrPermanent = errors.New("permanent error")
	// ErrTransient marks failures that may succeed on a later pass.
	ErrTransient = errors.New("transient error")
	// ErrEmptyResponse is returned when the completion has no choices.
	ErrEmptyResponse = errors.New("empty completion")
)

// Config selects the endpoint and model.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
}

// Extractor implements monitor.Extractor.
type Extractor struct {
	client *openai.Client
	model  string
}

// New creates an extractor. An empty API key is sent as "ollama", which
// local servers accept.
func New(cfg Config) *Extractor {
	key := cfg.APIKey
	if key == "" {
		key = "ollama"
	}
	oc := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &Extractor{
		client: openai.NewClientWithConfig(oc),
		model:  cfg.Model,
	}
}

func (e *Extractor) Name() string { return Name }

// Extract asks the model for an updated record in JSON mode.
func (e *Extractor) Extract(ctx context.Context, current monitor.CallRecord, conversation string) (monitor.CallRecord, error) {
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "Reply with a single JSON object and nothing else.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: monitor.Prompt(current, conversation),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return monitor.CallRecord{}, classify(err)
	}
	if len(resp.Choices) == 0 {
		return monitor.CallRecord{}, fmt.Errorf("%w: %w", ErrTransient, ErrEmptyResponse)
	}

	rec, err := monitor.DecodeCallRecord(resp.Choices[0].Message.Content)
	if err != nil {
		return monitor.CallRecord{}, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return rec, nil
}

// classify tags API errors as permanent (client errors) or transient.
func classify(err error) error {
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	status := 0
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests && status != http.StatusRequestTimeout {
		return fmt.Errorf("%w: chat completion: %w", ErrPermanent, err)
	}
	return fmt.Errorf("%w: chat completion: %w", ErrTransient, err)
}
