package pipeline

import (
	"sync"
	"testing"
	"time"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.BaseSilenceWaitMs = 20
	cfg.MaxSilenceWaitMs = 40
	return cfg
}

func TestArbiterFiresAfterSilence(t *testing.T) {
	var mu sync.Mutex
	var gotText string
	done := make(chan struct{})

	a := NewArbiter(fastConfig(), func() bool { return false }, ArbiterCallbacks{
		OnTurnEnded: func(text string, confidence float64) {
			mu.Lock()
			gotText = text
			mu.Unlock()
			close(done)
		},
	})

	a.OnFinal("I agree.", 0.9)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnTurnEnded")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotText != "I agree." {
		t.Errorf("expected 'I agree.', got %q", gotText)
	}
}

func TestArbiterAccumulatesAcrossFinals(t *testing.T) {
	done := make(chan string, 1)
	a := NewArbiter(fastConfig(), func() bool { return false }, ArbiterCallbacks{
		OnTurnEnded: func(text string, confidence float64) { done <- text },
	})

	a.OnFinal("first part", 0.9)
	a.OnFinal("second part.", 0.9)

	select {
	case text := <-done:
		if text != "first part second part." {
			t.Errorf("expected accumulated text, got %q", text)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnTurnEnded")
	}
}

func TestArbiterSkipsFireWhileTurnInFlight(t *testing.T) {
	fired := make(chan struct{}, 1)
	a := NewArbiter(fastConfig(), func() bool { return true }, ArbiterCallbacks{
		OnTurnEnded: func(text string, confidence float64) { fired <- struct{}{} },
	})

	a.OnFinal("should not fire.", 0.9)

	select {
	case <-fired:
		t.Fatal("expected OnTurnEnded not to fire while a turn is in flight")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestArbiterOnSessionEndedFlushesAccumulated(t *testing.T) {
	done := make(chan string, 1)
	a := NewArbiter(DefaultConfig(), func() bool { return false }, ArbiterCallbacks{
		OnTurnEnded: func(text string, confidence float64) { done <- text },
	})

	a.OnFinal("cut off mid", 0.9)
	a.OnSessionEnded()

	select {
	case text := <-done:
		if text != "cut off mid" {
			t.Errorf("expected 'cut off mid', got %q", text)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnSessionEnded to flush")
	}
}

func TestArbiterOnPartialCancelsPendingTimer(t *testing.T) {
	fired := make(chan struct{}, 1)
	a := NewArbiter(fastConfig(), func() bool { return false }, ArbiterCallbacks{
		OnTurnEnded: func(text string, confidence float64) { fired <- struct{}{} },
	})

	a.OnFinal("still talking", 0.9)
	a.OnPartial()

	select {
	case <-fired:
		t.Fatal("expected the debounce timer to be cancelled by OnPartial")
	case <-time.After(80 * time.Millisecond):
	}
}
