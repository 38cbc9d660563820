package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/pipeline"
)

func TestAnthropicLLMStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"delta\":{\"type\":\"text_delta\",\"text\":\"hello \"}}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"delta\":{\"type\":\"text_delta\",\"text\":\"from anthropic\"}}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "event: message_stop\ndata: {}\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	l := NewAnthropicLLM("test-key", "claude-3")
	l.url = server.URL

	var text string
	done := make(chan struct{})
	sess, err := l.Stream(context.Background(), []pipeline.Message{{Role: pipeline.RoleUser, Content: "hi"}}, nil, "system instructions", pipeline.LLMCallbacks{
		Token:    func(chunk string) { text += chunk },
		Complete: func(resp pipeline.LLMResponse) { close(done) },
		Error:    func(err error) { t.Errorf("unexpected stream error: %v", err) },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sess.Abort()
	<-done

	if text != "hello from anthropic" {
		t.Errorf("expected 'hello from anthropic', got %q", text)
	}
	if l.Name() != "anthropic-llm" {
		t.Errorf("expected anthropic-llm, got %s", l.Name())
	}
}

func TestAnthropicLLMStreamToolUse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "event: content_block_start\ndata: {\"index\":0,\"content_block\":{\"type\":\"tool_use\",\"id\":\"toolu_1\",\"name\":\"book_appointment\"}}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"index\":0,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"{\\\"date\\\":\\\"tomorrow\\\"}\"}}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "event: message_stop\ndata: {}\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	l := NewAnthropicLLM("test-key", "claude-3")
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

	if len(calls) != 1 || calls[0].Name != "book_appointment" || calls[0].Arguments != `{"date":"tomorrow"}` {
		t.Fatalf("unexpected tool calls: %+v", calls)
	}
}
