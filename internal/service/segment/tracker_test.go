package segment

import (
	"errors"
	"sync"
	"testing"
)

func TestTracker_PartialsThenComplete(t *testing.T) {
	tr := NewTracker()

	if err := tr.Partial(0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tr.Partial(0); err != nil {
		t.Fatalf("expected repeated partials to be allowed, got %v", err)
	}
	if st, ok := tr.State(0); !ok || st != StateOpen {
		t.Errorf("expected OPEN, got %v (seen=%v)", st, ok)
	}
	if err := tr.Complete(0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st, _ := tr.State(0); st != StateCompleted {
		t.Errorf("expected COMPLETED, got %v", st)
	}
}

func TestTracker_CompleteOnlyOnce(t *testing.T) {
	tr := NewTracker()

	if err := tr.Complete(3); err != nil {
		t.Fatalf("expected completion without partials to succeed, got %v", err)
	}
	if err := tr.Complete(3); !errors.Is(err, ErrAlreadyCompleted) {
		t.Errorf("expected ErrAlreadyCompleted, got %v", err)
	}
	if err := tr.Partial(3); !errors.Is(err, ErrPartialAfterEnd) {
		t.Errorf("expected ErrPartialAfterEnd, got %v", err)
	}
	if err := tr.Partial(4); err != nil {
		t.Errorf("expected the next index to be independent, got %v", err)
	}
}

func TestTracker_CloseDropsOpenUtterances(t *testing.T) {
	tr := NewTracker()
	_ = tr.Partial(0)
	_ = tr.Complete(0)
	_ = tr.Partial(1)
	_ = tr.Partial(2)

	if n := tr.Close(); n != 2 {
		t.Errorf("expected 2 dropped utterances, got %d", n)
	}
	if st, _ := tr.State(1); st != StateDropped {
		t.Errorf("expected DROPPED, got %v", st)
	}
	if st, _ := tr.State(0); st != StateCompleted {
		t.Errorf("expected completed utterance to stay COMPLETED, got %v", st)
	}
	if n := tr.Close(); n != 0 {
		t.Errorf("expected Close to be idempotent, got %d", n)
	}
	if err := tr.Partial(5); !errors.Is(err, ErrTrackerClosed) {
		t.Errorf("expected ErrTrackerClosed, got %v", err)
	}
	if err := tr.Complete(1); !errors.Is(err, ErrTrackerClosed) {
		t.Errorf("expected ErrTrackerClosed, got %v", err)
	}
}

func TestTracker_ConcurrentComplete(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tr.Complete(7) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("expected exactly one completion, got %d", wins)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateOpen, "OPEN"},
		{StateCompleted, "COMPLETED"},
		{StateDropped, "DROPPED"},
		{State(99), "UNKNOWN(99)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.want)
		}
	}
	if StateOpen.IsTerminal() || !StateCompleted.IsTerminal() || !StateDropped.IsTerminal() {
		t.Error("unexpected IsTerminal result")
	}
}
