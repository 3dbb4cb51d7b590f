package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"

	"asr-call-monitor/internal/queue"
)

// Transcript is a consumer that only collects utterances.
type Transcript struct {
	in *queue.FIFO[string]

	mu    sync.Mutex
	lines []string

	// OnLine is called for every utterance, if set.
	OnLine func(text string)
}

func NewTranscript(in *queue.FIFO[string]) *Transcript {
	return &Transcript{in: in}
}

func (t *Transcript) Run(ctx context.Context) error {
	for {
		text, err := t.in.Get(ctx)
		if errors.Is(err, queue.ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		if text != "" {
			t.mu.Lock()
			t.lines = append(t.lines, text)
			t.mu.Unlock()
			if t.OnLine != nil {
				t.OnLine(text)
			}
		}
		t.in.Done()
	}
}

// Lines returns a copy of the collected utterances.
func (t *Transcript) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.lines...)
}

// Text joins the utterances with newlines.
func (t *Transcript) Text() string {
	return strings.Join(t.Lines(), "\n")
}
