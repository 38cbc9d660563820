package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/pipeline"
)

func TestGroqLLMStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		writeSSEChunk(w, "hello from groq", "", "", "stop")
		flusher.Flush()
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	l := NewGroqLLM("test-key", "", WithBaseURL(server.URL))
	if l.Name() != "openai-llm" {
		t.Errorf("expected openai-llm, got %s", l.Name())
	}
	if l.model != "llama-3.3-70b-versatile" {
		t.Errorf("expected default groq model, got %s", l.model)
	}

	var text string
	done := make(chan struct{})
	_, err := l.Stream(context.Background(), []pipeline.Message{{Role: pipeline.RoleUser, Content: "hi"}}, nil, "", pipeline.LLMCallbacks{
		Token:    func(chunk string) { text += chunk },
		Complete: func(resp pipeline.LLMResponse) { close(done) },
		Error:    func(err error) { t.Errorf("unexpected stream error: %v", err) },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-done

	if text != "hello from groq" {
		t.Errorf("expected 'hello from groq', got %q", text)
	}
}
