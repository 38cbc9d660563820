package tts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/pipeline"
)

func serveOneUtterance(t *testing.T, chunks [][]byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "closing")

		for {
			var req map[string]any
			if err := wsjson.Read(r.Context(), conn, &req); err != nil {
				return
			}
			for _, c := range chunks {
				conn.Write(r.Context(), websocket.MessageBinary, c)
			}
			conn.Write(r.Context(), websocket.MessageText, []byte("EOS"))
		}
	}))
}

func TestLokutorTTSSynthesize(t *testing.T) {
	server := serveOneUtterance(t, [][]byte{{1, 2, 3}, {4, 5, 6}})
	defer server.Close()

	tts := &LokutorTTS{
		apiKey: "test-key",
		host:   strings.TrimPrefix(server.URL, "http://"),
		scheme: "ws",
	}

	audio, err := tts.Synthesize(context.Background(), "hello", "f1", "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(audio) != 6 {
		t.Errorf("expected 6 bytes, got %d", len(audio))
	}
	if tts.Name() != "lokutor" {
		t.Errorf("expected lokutor, got %s", tts.Name())
	}
}

func TestLokutorTTSOpenStream(t *testing.T) {
	server := serveOneUtterance(t, [][]byte{{9, 9}})
	defer server.Close()

	tts := &LokutorTTS{
		apiKey: "test-key",
		host:   strings.TrimPrefix(server.URL, "http://"),
		scheme: "ws",
	}

	sess, err := tts.OpenStream(context.Background(), "f1", "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := sess.SendText(context.Background(), "first sentence", ""); err != nil {
		t.Fatalf("send text: %v", err)
	}
	if err := sess.SendText(context.Background(), "second sentence", "es"); err != nil {
		t.Fatalf("send text: %v", err)
	}

	var chunks int
	done := make(chan struct{})
	go func() {
		for ev := range sess.Events() {
			switch ev.Type {
			case pipeline.TTSAudioChunk:
				chunks++
			case pipeline.TTSComplete:
				close(done)
				return
			case pipeline.TTSError:
				t.Errorf("unexpected stream error: %v", ev.Err)
				close(done)
				return
			}
		}
	}()

	if err := sess.End(context.Background()); err != nil {
		t.Fatalf("end: %v", err)
	}
	<-done

	if chunks != 2 {
		t.Errorf("expected 2 audio chunks (one per sentence), got %d", chunks)
	}
}

func TestLokutorTTSAbort(t *testing.T) {
	server := serveOneUtterance(t, [][]byte{{1}})
	defer server.Close()

	tts := &LokutorTTS{
		apiKey: "test-key",
		host:   strings.TrimPrefix(server.URL, "http://"),
		scheme: "ws",
	}

	sess, err := tts.OpenStream(context.Background(), "f1", "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sess.Abort()
}
