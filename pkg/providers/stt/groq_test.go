package stt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGroqSTTTranscribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(struct {
			Text string `json:"text"`
		}{Text: "groq transcription"})
	}))
	defer server.Close()

	c := &groqSTTClient{apiKey: "test-key", url: server.URL, model: "whisper-large-v3", sampleRate: 16000}

	result, err := c.transcribe(context.Background(), []byte{0, 0, 0, 0}, "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "groq transcription" {
		t.Errorf("expected 'groq transcription', got %q", result)
	}
}

func TestGroqSTTProviderName(t *testing.T) {
	provider := NewGroqSTT("test-key", "", 0)
	if provider.Name() != "groq-stt" {
		t.Errorf("expected groq-stt, got %s", provider.Name())
	}
}
