package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/pipeline"
)

// AnthropicLLM streams chat completions from the Anthropic Messages API via
// a hand-rolled SSE client (bufio.Scanner over event:/data: lines), the
// same shape hubenschmidt-asr-llm-tts's llm_anthropic.go uses, extended
// here with tool_use content-block accumulation.
type AnthropicLLM struct {
	apiKey    string
	url       string
	model     string
	maxTokens int
	client    *http.Client
}

// NewAnthropicLLM returns a pipeline.LLMProvider backed by the Anthropic
// Messages API.
func NewAnthropicLLM(apiKey, model string) *AnthropicLLM {
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}
	return &AnthropicLLM{
		apiKey:    apiKey,
		url:       "https://api.anthropic.com/v1/messages",
		model:     model,
		maxTokens: 1024,
		client:    &http.Client{Timeout: 120 * time.Second},
	}
}

func (l *AnthropicLLM) Name() string { return "anthropic-llm" }

type anthropicReqMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicRequest struct {
	Model     string                `json:"model"`
	MaxTokens int                   `json:"max_tokens"`
	Stream    bool                  `json:"stream"`
	System    string                `json:"system,omitempty"`
	Messages  []anthropicReqMessage `json:"messages"`
	Tools     []anthropicTool       `json:"tools,omitempty"`
}

// Stream implements pipeline.LLMProvider. Anthropic has no notion of a
// standalone "tool" role message in its Messages API; tool results here are
// folded into the conversation as user turns so the wire request stays
// within the public API shape (assistant tool_use / user tool_result pairs
// would require echoing the tool_use block back, which this pipeline's
// ConversationLog does not retain verbatim — an accepted limitation).
func (l *AnthropicLLM) Stream(ctx context.Context, messages []pipeline.Message, tools []pipeline.ToolDefinition, systemPrompt string, cb pipeline.LLMCallbacks) (pipeline.LLMSession, error) {
	var reqMessages []anthropicReqMessage
	for _, m := range messages {
		switch m.Role {
		case pipeline.RoleUser:
			reqMessages = append(reqMessages, anthropicReqMessage{Role: "user", Content: m.Content})
		case pipeline.RoleAssistant:
			if m.Content != "" {
				reqMessages = append(reqMessages, anthropicReqMessage{Role: "assistant", Content: m.Content})
			}
		case pipeline.RoleTool:
			reqMessages = append(reqMessages, anthropicReqMessage{Role: "user", Content: fmt.Sprintf("[tool result for %s]: %s", m.ToolName, m.Content)})
		}
	}

	var reqTools []anthropicTool
	for _, td := range tools {
		reqTools = append(reqTools, anthropicTool{Name: td.Name, Description: td.Description, InputSchema: td.Parameters})
	}

	body, err := json.Marshal(anthropicRequest{
		Model:     l.model,
		MaxTokens: l.maxTokens,
		Stream:    true,
		System:    systemPrompt,
		Messages:  reqMessages,
		Tools:     reqTools,
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	reqCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, l.url, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", l.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := l.client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("anthropic: request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		cancel()
		return nil, fmt.Errorf("anthropic: status %d: %s", resp.StatusCode, errBody)
	}

	sess := &anthropicSession{cancel: cancel, body: resp.Body}
	go sess.consume(cb)
	return sess, nil
}

type anthropicSession struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	body   io.ReadCloser
}

func (s *anthropicSession) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel()
	if s.body != nil {
		s.body.Close()
	}
}

type contentBlockStart struct {
	Index        int `json:"index"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
}

type contentBlockDelta struct {
	Index int `json:"index"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
}

// consume scans the SSE body, accumulating text deltas and per-index
// tool_use input_json_delta fragments, and fires cb.Token/cb.ToolCall/
// cb.Complete as the corresponding events are recognized.
func (s *anthropicSession) consume(cb pipeline.LLMCallbacks) {
	defer s.body.Close()

	type toolAccum struct {
		id, name, args string
	}
	tools := map[int]*toolAccum{}
	toolOrder := []int{}
	var text string

	scanner := bufio.NewScanner(s.body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var eventType string

	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventType = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		switch eventType {
		case "content_block_start":
			var ev contentBlockStart
			if json.Unmarshal([]byte(data), &ev) != nil {
				continue
			}
			if ev.ContentBlock.Type == "tool_use" {
				tools[ev.Index] = &toolAccum{id: ev.ContentBlock.ID, name: ev.ContentBlock.Name}
				toolOrder = append(toolOrder, ev.Index)
			}
		case "content_block_delta":
			var ev contentBlockDelta
			if json.Unmarshal([]byte(data), &ev) != nil {
				continue
			}
			switch ev.Delta.Type {
			case "text_delta":
				if ev.Delta.Text == "" {
					continue
				}
				text += ev.Delta.Text
				if cb.Token != nil {
					cb.Token(ev.Delta.Text)
				}
			case "input_json_delta":
				if a, ok := tools[ev.Index]; ok {
					a.args += ev.Delta.PartialJSON
				}
			}
		case "message_stop":
			var calls []pipeline.ToolCall
			for _, idx := range toolOrder {
				a := tools[idx]
				call := pipeline.ToolCall{ID: a.id, Name: a.name, Arguments: a.args}
				calls = append(calls, call)
				if cb.ToolCall != nil {
					cb.ToolCall(call)
				}
			}
			if cb.Complete != nil {
				cb.Complete(pipeline.LLMResponse{Text: text, ToolCalls: calls})
			}
			return
		}
	}

	if err := scanner.Err(); err != nil && cb.Error != nil {
		cb.Error(fmt.Errorf("anthropic: stream: %w", err))
	}
}
