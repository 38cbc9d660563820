package pipeline

import "testing"

func loudFrame() AudioFrame {
	return pcmFrame(20000, -20000, 20000, -20000)
}

func quietFrame() AudioFrame {
	return pcmFrame(10, -10, 10, -10)
}

func TestBargeInControllerIgnoresLoudFramesWhileTTSInactive(t *testing.T) {
	tracker := NewTTSPlaybackTracker()
	cfg := DefaultConfig()
	fired := false
	b := NewBargeInController(cfg, tracker, NewEchoSuppressor(), func() { fired = true })

	gated := b.Inspect(loudFrame())
	if gated {
		t.Fatal("expected frame not gated while TTS inactive")
	}
	if fired {
		t.Fatal("expected no barge-in while TTS inactive")
	}
}

func TestBargeInControllerFiresAfterRequiredLoudChunks(t *testing.T) {
	tracker := NewTTSPlaybackTracker()
	tracker.SetActive(true, 0)

	cfg := DefaultConfig()
	cfg.BargeInRequiredChunks = 2
	cfg.BargeInThresholdRMS = 500

	var fireCount int
	b := NewBargeInController(cfg, tracker, NewEchoSuppressor(), func() { fireCount++ })

	if !b.Inspect(loudFrame()) {
		t.Fatal("expected frame to be gated while TTS active")
	}
	if fireCount != 0 {
		t.Fatal("expected no barge-in after a single loud chunk")
	}
	b.Inspect(loudFrame())
	if fireCount != 1 {
		t.Fatalf("expected exactly one barge-in after required consecutive loud chunks, got %d", fireCount)
	}
}

func TestBargeInControllerResetsCountOnQuietFrame(t *testing.T) {
	tracker := NewTTSPlaybackTracker()
	tracker.SetActive(true, 0)

	cfg := DefaultConfig()
	cfg.BargeInRequiredChunks = 2
	cfg.BargeInThresholdRMS = 500

	var fireCount int
	b := NewBargeInController(cfg, tracker, NewEchoSuppressor(), func() { fireCount++ })

	b.Inspect(loudFrame())
	b.Inspect(quietFrame())
	b.Inspect(loudFrame())

	if fireCount != 0 {
		t.Fatalf("expected the quiet frame to reset the streak, got %d fires", fireCount)
	}
}

func TestBargeInControllerResetClearsStreak(t *testing.T) {
	tracker := NewTTSPlaybackTracker()
	tracker.SetActive(true, 0)

	cfg := DefaultConfig()
	cfg.BargeInRequiredChunks = 2
	cfg.BargeInThresholdRMS = 500

	var fireCount int
	b := NewBargeInController(cfg, tracker, NewEchoSuppressor(), func() { fireCount++ })

	b.Inspect(loudFrame())
	b.Reset()
	b.Inspect(loudFrame())

	if fireCount != 0 {
		t.Fatalf("expected Reset to clear the streak, got %d fires", fireCount)
	}
}
