package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/pipeline"
)

func TestGoogleLLMStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.RawQuery, "key=test-key") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		resp := map[string]any{
			"candidates": []map[string]any{
				{
					"content": map[string]any{
						"role": "model",
						"parts": []map[string]any{
							{"text": "hello from google"},
						},
					},
				},
			},
			"usageMetadata": map[string]any{
				"promptTokenCount":     3,
				"candidatesTokenCount": 4,
				"totalTokenCount":      7,
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	l := NewGoogleLLM("test-key", "gemini-1.5-flash")
	l.url = server.URL

	var text string
	done := make(chan pipeline.LLMResponse, 1)
	_, err := l.Stream(context.Background(), []pipeline.Message{{Role: pipeline.RoleUser, Content: "hi"}}, nil, "", pipeline.LLMCallbacks{
		Token:    func(chunk string) { text += chunk },
		Complete: func(resp pipeline.LLMResponse) { done <- resp },
		Error:    func(err error) { t.Errorf("unexpected stream error: %v", err) },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp := <-done
	if text != "hello from google" {
		t.Errorf("expected 'hello from google', got %q", text)
	}
	if resp.Usage.TotalTokens != 7 {
		t.Errorf("expected usage total 7, got %d", resp.Usage.TotalTokens)
	}
	if l.Name() != "google-llm" {
		t.Errorf("expected google-llm, got %s", l.Name())
	}
}

func TestGoogleLLMStreamToolCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"candidates": []map[string]any{
				{
					"content": map[string]any{
						"role": "model",
						"parts": []map[string]any{
							{"functionCall": map[string]any{
								"name": "book_appointment",
								"args": map[string]any{"date": "tomorrow"},
							}},
						},
					},
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	l := NewGoogleLLM("test-key", "gemini-1.5-flash")
	l.url = server.URL

	var calls []pipeline.ToolCall
	done := make(chan struct{})
	_, err := l.Stream(context.Background(), nil, nil, "", pipeline.LLMCallbacks{
		ToolCall: func(call pipeline.ToolCall) { calls = append(calls, call) },
		Complete: func(resp pipeline.LLMResponse) { close(done) },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-done

	if len(calls) != 1 || calls[0].Name != "book_appointment" {
		t.Fatalf("unexpected tool calls: %+v", calls)
	}
}
