package pipeline

import (
	"context"
	"regexp"
	"sync"
)

// ToolDefinition describes a tool the LLM may call. Parameters is a
// JSON-schema object. EstimatedDurationMs/MaxDurationMs/Idempotent/
// CacheableSeconds go beyond the bare {name, description, parameters}
// shape as duration/idempotency hints; neither the Filler Player nor the
// tool timeout reads them.
type ToolDefinition struct {
	Name                string
	Description         string
	Parameters          map[string]any
	EstimatedDurationMs int
	MaxDurationMs       int
	Idempotent          bool
	CacheableSeconds    int
}

// LLMUsage reports token accounting for one LLM response.
type LLMUsage struct {
	PromptTokens            int
	CompletionTokens        int
	TotalTokens             int
	CachedContentTokenCount int
}

// LLMResponse is the payload of an LLM stream's complete callback.
type LLMResponse struct {
	Text      string
	ToolCalls []ToolCall
	Usage     LLMUsage
}

// LLMCallbacks are invoked by an LLMSession as the upstream stream
// produces output. Exactly one of Complete or Error fires to terminate a
// stream.
type LLMCallbacks struct {
	Token    func(chunk string)
	ToolCall func(call ToolCall)
	Complete func(resp LLMResponse)
	Error    func(err error)
}

// LLMSession is one upstream LLM streaming request.
type LLMSession interface {
	Abort()
}

// LLMProvider streams chat completions from a conversation history.
type LLMProvider interface {
	Stream(ctx context.Context, messages []Message, tools []ToolDefinition, systemPrompt string, cb LLMCallbacks) (LLMSession, error)
	Name() string
}

var toolNameInvalidChar = regexp.MustCompile(`[^A-Za-z0-9_.:-]`)

// SanitizeToolName normalizes a provider-facing tool name: replace
// characters outside [A-Za-z0-9_.:-] with "_", ensure the first character
// is a letter or underscore, truncate to 64 characters.
func SanitizeToolName(name string) string {
	s := toolNameInvalidChar.ReplaceAllString(name, "_")
	if s == "" {
		s = "_"
	}
	first := rune(s[0])
	if !((first >= 'A' && first <= 'Z') || (first >= 'a' && first <= 'z') || first == '_') {
		s = "_" + s
	}
	if len(s) > 64 {
		s = s[:64]
	}
	return s
}

// DedupeToolDefinitions sanitizes every definition's name and drops
// duplicates by sanitized name, first wins.
func DedupeToolDefinitions(defs []ToolDefinition) []ToolDefinition {
	seen := make(map[string]bool, len(defs))
	out := make([]ToolDefinition, 0, len(defs))
	for _, d := range defs {
		sanitized := SanitizeToolName(d.Name)
		if seen[sanitized] {
			continue
		}
		seen[sanitized] = true
		d.Name = sanitized
		out = append(out, d)
	}
	return out
}

// LLMDriver wraps a provider stream with the core's sentence-splitting
// layer: tokens are forwarded raw and also fed into a SentenceBuffer,
// emitting a sentence event at each boundary and flushing any remainder on
// completion.
type LLMDriver struct {
	provider LLMProvider

	mu      sync.Mutex
	session LLMSession
	aborted bool

	onToken    func(string)
	onSentence func(string)
	onToolCall func(ToolCall)
	onComplete func(LLMResponse)
	onError    func(error)
}

// NewLLMDriver constructs a driver bound to provider, with callbacks wired
// to the pipeline's event queue.
func NewLLMDriver(provider LLMProvider, onToken, onSentence func(string), onToolCall func(ToolCall), onComplete func(LLMResponse), onError func(error)) *LLMDriver {
	return &LLMDriver{
		provider:   provider,
		onToken:    onToken,
		onSentence: onSentence,
		onToolCall: onToolCall,
		onComplete: onComplete,
		onError:    onError,
	}
}

// Stream opens a new upstream request for the given history. Aborting a
// prior in-flight session, if any, is the caller's responsibility (the
// orchestrator does this before recursing into a fresh stream).
func (d *LLMDriver) Stream(ctx context.Context, messages []Message, tools []ToolDefinition, systemPrompt string) error {
	var sentences SentenceBuffer

	d.mu.Lock()
	d.aborted = false
	d.mu.Unlock()

	session, err := d.provider.Stream(ctx, messages, tools, systemPrompt, LLMCallbacks{
		Token: func(chunk string) {
			if d.isAborted() {
				return
			}
			if d.onToken != nil {
				d.onToken(chunk)
			}
			if sentence := sentences.Add(chunk); sentence != "" && d.onSentence != nil {
				d.onSentence(sentence)
			}
		},
		ToolCall: func(call ToolCall) {
			if d.isAborted() {
				return
			}
			if d.onToolCall != nil {
				d.onToolCall(call)
			}
		},
		Complete: func(resp LLMResponse) {
			if d.isAborted() {
				return
			}
			if remainder := sentences.Flush(); remainder != "" && d.onSentence != nil {
				d.onSentence(remainder)
			}
			if d.onComplete != nil {
				d.onComplete(resp)
			}
		},
		Error: func(err error) {
			if d.isAborted() {
				return
			}
			if d.onError != nil {
				d.onError(err)
			}
		},
	})
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.session = session
	d.mu.Unlock()
	return nil
}

func (d *LLMDriver) isAborted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.aborted
}

// Abort cancels the upstream request; in-flight tokens delivered after
// Abort returns are dropped (enforced via the aborted flag checked in each
// callback above, since providers may not stop their goroutine instantly).
func (d *LLMDriver) Abort() {
	d.mu.Lock()
	d.aborted = true
	session := d.session
	d.session = nil
	d.mu.Unlock()
	if session != nil {
		session.Abort()
	}
}

// detectLanguageFromScript classifies sentence language by script ratio:
// Devanagari >50% of letters ⇒ "hi-IN", else "en-IN".
func detectLanguageFromScript(s string) string {
	var devanagari, letters int
	for _, r := range s {
		if !latinOrIndic(r) {
			continue
		}
		letters++
		if r >= 0x0900 && r <= 0x097F {
			devanagari++
		}
	}
	if letters > 0 && float64(devanagari)/float64(letters) > 0.5 {
		return "hi-IN"
	}
	return "en-IN"
}
