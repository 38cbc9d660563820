package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/pipeline"
)

// writeSSEChunk writes one OpenAI-shaped chat-completion-chunk SSE event.
func writeSSEChunk(w http.ResponseWriter, content, toolName, toolArgs string, finish string) {
	var toolCalls string
	if toolName != "" {
		toolCalls = fmt.Sprintf(`,"tool_calls":[{"index":0,"id":"call_1","function":{"name":%q,"arguments":%q}}]`, toolName, toolArgs)
	}
	fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q%s},\"finish_reason\":%q}]}\n\n", content, toolCalls, finish)
}

func TestOpenAILLMStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		writeSSEChunk(w, "Hello", "", "", "")
		flusher.Flush()
		writeSSEChunk(w, " world.", "", "", "stop")
		flusher.Flush()
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	l := NewOpenAILLM("test-key", "gpt-4o", WithBaseURL(server.URL))
	if l.Name() != "openai-llm" {
		t.Errorf("expected openai-llm, got %s", l.Name())
	}

	var tokens []string
	done := make(chan pipeline.LLMResponse, 1)
	sess, err := l.Stream(context.Background(), []pipeline.Message{{Role: pipeline.RoleUser, Content: "hi"}}, nil, "", pipeline.LLMCallbacks{
		Token:    func(chunk string) { tokens = append(tokens, chunk) },
		Complete: func(resp pipeline.LLMResponse) { done <- resp },
		Error:    func(err error) { t.Errorf("unexpected stream error: %v", err) },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sess.Abort()

	resp := <-done
	if resp.Text != "Hello world." {
		t.Errorf("expected 'Hello world.', got %q", resp.Text)
	}
	if len(tokens) != 2 {
		t.Errorf("expected 2 tokens, got %d: %v", len(tokens), tokens)
	}
}

func TestOpenAILLMStreamToolCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		writeSSEChunk(w, "", "book_appointment", `{"date":"tomorrow"}`, "tool_calls")
		flusher.Flush()
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	l := NewOpenAILLM("test-key", "gpt-4o", WithBaseURL(server.URL))

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
		t.Fatalf("expected one book_appointment call, got %+v", calls)
	}
}
