package pipeline

import "testing"

func TestSentenceBufferSplitsOnTerminator(t *testing.T) {
	var buf SentenceBuffer
	if s := buf.Add("Hello"); s != "" {
		t.Fatalf("expected no sentence yet, got %q", s)
	}
	if s := buf.Add(" world."); s != "Hello world." {
		t.Fatalf("expected 'Hello world.', got %q", s)
	}
	if s := buf.Add(" Next"); s != "" {
		t.Fatalf("expected no sentence yet, got %q", s)
	}
}

func TestSentenceBufferSplitsOnQuestionAndExclamation(t *testing.T) {
	var buf SentenceBuffer
	if s := buf.Add("Are you there?"); s != "Are you there?" {
		t.Fatalf("expected question to flush, got %q", s)
	}
	if s := buf.Add("Watch out!"); s != "Watch out!" {
		t.Fatalf("expected exclamation to flush, got %q", s)
	}
}

func TestSentenceBufferFlushReturnsResidual(t *testing.T) {
	var buf SentenceBuffer
	buf.Add("trailing thought with no terminator")
	if s := buf.Flush(); s != "trailing thought with no terminator" {
		t.Fatalf("expected residual text, got %q", s)
	}
	if s := buf.Flush(); s != "" {
		t.Fatalf("expected empty buffer after flush, got %q", s)
	}
}

func TestSentenceBufferSplitsOnColonNewline(t *testing.T) {
	var buf SentenceBuffer
	if s := buf.Add("Here's the plan:\n"); s != "Here's the plan:" {
		t.Fatalf("expected colon-newline to flush, got %q", s)
	}
}
