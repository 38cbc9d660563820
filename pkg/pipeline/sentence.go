package pipeline

import (
	"regexp"
	"strings"
)

// sentenceBoundary matches the end of a buffer that is ready to flush as a
// complete sentence: a sentence terminator (including the Devanagari
// danda/double-danda) or a colon followed by a newline.
var sentenceBoundary = regexp.MustCompile(`[.!?।॥]\s*$|:\s*\n$`)

// SentenceBuffer accumulates streamed LLM tokens and splits them at
// sentence boundaries, handing each complete sentence to the TTS driver
// while the LLM keeps producing.
type SentenceBuffer struct {
	buf strings.Builder
}

// Add appends a token and returns a complete sentence if the buffer now
// ends at a sentence boundary, else "".
func (s *SentenceBuffer) Add(token string) string {
	s.buf.WriteString(token)
	text := s.buf.String()
	if !sentenceBoundary.MatchString(text) {
		return ""
	}
	complete := strings.TrimSpace(text)
	s.buf.Reset()
	return complete
}

// Flush returns and clears any residual buffered text (called on LLM
// stream completion, so a sentence with no trailing terminator still
// reaches the TTS driver).
func (s *SentenceBuffer) Flush() string {
	text := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	return text
}
