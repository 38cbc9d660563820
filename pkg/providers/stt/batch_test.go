package stt

import (
	"context"
	"testing"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/pipeline"
)

func loudFrame(n int) pipeline.AudioFrame {
	f := make([]byte, n*2)
	for i := 0; i < n; i++ {
		f[2*i] = 0x00
		f[2*i+1] = 0x20 // ~0x2000 amplitude, well above the 300 silence floor
	}
	return f
}

func silentFrame(n int) pipeline.AudioFrame {
	return make(pipeline.AudioFrame, n*2)
}

func TestBatchSessionEndFlushesRemainder(t *testing.T) {
	calls := 0
	provider := NewBatchSTTProvider("fake", func(ctx context.Context, audioPCM []byte, language string) (string, error) {
		calls++
		return "hello world", nil
	})

	sess, err := provider.Open(context.Background(), "en", 16000)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := sess.Write(context.Background(), loudFrame(1600)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := sess.End(context.Background()); err != nil {
		t.Fatalf("end: %v", err)
	}

	var gotFinal, gotEnded bool
	for ev := range sess.Events() {
		switch ev.Type {
		case pipeline.STTFinal:
			gotFinal = true
			if ev.Result.Text != "hello world" {
				t.Errorf("unexpected transcript %q", ev.Result.Text)
			}
		case pipeline.STTEnded:
			gotEnded = true
		}
	}
	if !gotFinal || !gotEnded {
		t.Fatalf("expected final+ended, got final=%v ended=%v", gotFinal, gotEnded)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one transcribe call, got %d", calls)
	}
}

func TestBatchSessionSegmentsOnSilence(t *testing.T) {
	var got []string
	provider := NewBatchSTTProvider("fake", func(ctx context.Context, audioPCM []byte, language string) (string, error) {
		got = append(got, "seg")
		return "seg", nil
	})

	sess, err := provider.Open(context.Background(), "en", 16000)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	// ~500ms loud speech, then >silenceSegmentMs of silence to force a flush.
	if err := sess.Write(context.Background(), loudFrame(8000)); err != nil {
		t.Fatalf("write loud: %v", err)
	}
	if err := sess.Write(context.Background(), silentFrame(16000)); err != nil {
		t.Fatalf("write silence: %v", err)
	}

	deadline := time.After(time.Second)
	for len(got) == 0 {
		select {
		case <-deadline:
			t.Fatal("expected a segment transcribe call from silence detection")
		case <-time.After(10 * time.Millisecond):
		}
	}

	sess.Abort()
}
