// Package llm implements pipeline.LLMProvider adapters for several hosted
// chat-completion APIs.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/pipeline"
)

// OpenAILLM streams chat completions through the real OpenAI SDK, with
// per-index tool-call-fragment accumulation across the streamed deltas.
type OpenAILLM struct {
	client oai.Client
	model  string
}

// NewOpenAILLM returns a pipeline.LLMProvider backed by the OpenAI chat
// completions API. The WithBaseURL option points the client at an
// OpenAI-compatible endpoint (used by NewGroqLLM below).
func NewOpenAILLM(apiKey, model string, opts ...OpenAIOption) *OpenAILLM {
	if model == "" {
		model = "gpt-4o"
	}
	cfg := openaiConfig{}
	for _, o := range opts {
		o(&cfg)
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &OpenAILLM{client: oai.NewClient(reqOpts...), model: model}
}

type openaiConfig struct {
	baseURL string
	timeout time.Duration
}

// OpenAIOption configures NewOpenAILLM / NewGroqLLM.
type OpenAIOption func(*openaiConfig)

// WithBaseURL points the OpenAI-compatible client at a different host.
func WithBaseURL(url string) OpenAIOption {
	return func(c *openaiConfig) { c.baseURL = url }
}

// NewGroqLLM returns a pipeline.LLMProvider that speaks Groq's
// OpenAI-compatible chat-completions API through the same SDK, since Groq's
// wire format is a superset of OpenAI's (including tool-call deltas). A
// caller-supplied WithBaseURL (e.g. in tests) overrides the default Groq
// endpoint since opts are applied after it.
func NewGroqLLM(apiKey, model string, opts ...OpenAIOption) *OpenAILLM {
	if model == "" {
		model = "llama-3.3-70b-versatile"
	}
	return NewOpenAILLM(apiKey, model, append([]OpenAIOption{WithBaseURL("https://api.groq.com/openai/v1")}, opts...)...)
}

func (l *OpenAILLM) Name() string { return "openai-llm" }

// Stream implements pipeline.LLMProvider.
func (l *OpenAILLM) Stream(ctx context.Context, messages []pipeline.Message, tools []pipeline.ToolDefinition, systemPrompt string, cb pipeline.LLMCallbacks) (pipeline.LLMSession, error) {
	params := buildOpenAIParams(l.model, messages, tools, systemPrompt)

	streamCtx, cancel := context.WithCancel(ctx)
	stream := l.client.Chat.Completions.NewStreaming(streamCtx, params)
	if err := stream.Err(); err != nil {
		cancel()
		return nil, fmt.Errorf("openai: start stream: %w", err)
	}

	sess := &openaiSession{cancel: cancel}
	go sess.consume(stream, cb)
	return sess, nil
}

type openaiSession struct {
	cancel context.CancelFunc
}

func (s *openaiSession) Abort() { s.cancel() }

func (s *openaiSession) consume(stream *oai.ChatCompletionsNewStreamingResponse, cb pipeline.LLMCallbacks) {
	defer stream.Close()

	type accum struct {
		id, name, args string
	}
	toolCalls := map[int64]*accum{}
	order := []int64{}
	var usage pipeline.LLMUsage
	var text string

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			text += delta.Content
			if cb.Token != nil {
				cb.Token(delta.Content)
			}
		}
		for _, tc := range delta.ToolCalls {
			idx := tc.Index
			a, ok := toolCalls[idx]
			if !ok {
				a = &accum{}
				toolCalls[idx] = a
				order = append(order, idx)
			}
			if tc.ID != "" {
				a.id = tc.ID
			}
			if tc.Function.Name != "" {
				a.name = tc.Function.Name
			}
			a.args += tc.Function.Arguments
		}
		if chunk.Usage.TotalTokens > 0 {
			usage = pipeline.LLMUsage{
				PromptTokens:     int(chunk.Usage.PromptTokens),
				CompletionTokens: int(chunk.Usage.CompletionTokens),
				TotalTokens:      int(chunk.Usage.TotalTokens),
			}
		}
	}

	if err := stream.Err(); err != nil {
		if cb.Error != nil {
			cb.Error(fmt.Errorf("openai: stream: %w", err))
		}
		return
	}

	var calls []pipeline.ToolCall
	for _, idx := range order {
		a := toolCalls[idx]
		call := pipeline.ToolCall{ID: a.id, Name: a.name, Arguments: a.args}
		calls = append(calls, call)
		if cb.ToolCall != nil {
			cb.ToolCall(call)
		}
	}

	if cb.Complete != nil {
		cb.Complete(pipeline.LLMResponse{Text: text, ToolCalls: calls, Usage: usage})
	}
}

func buildOpenAIParams(model string, messages []pipeline.Message, tools []pipeline.ToolDefinition, systemPrompt string) oai.ChatCompletionNewParams {
	var msgs []oai.ChatCompletionMessageParamUnion
	if systemPrompt != "" {
		msgs = append(msgs, oai.SystemMessage(systemPrompt))
	}
	for _, m := range messages {
		switch m.Role {
		case pipeline.RoleSystem:
			msgs = append(msgs, oai.SystemMessage(m.Content))
		case pipeline.RoleUser:
			msgs = append(msgs, oai.UserMessage(m.Content))
		case pipeline.RoleAssistant:
			asst := oai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				asst.Content.OfString = oai.String(m.Content)
			}
			for _, tc := range m.ToolCalls {
				asst.ToolCalls = append(asst.ToolCalls, oai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: oai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			msgs = append(msgs, oai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		case pipeline.RoleTool:
			msgs = append(msgs, oai.ToolMessage(m.Content, m.ToolCallID))
		}
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: msgs,
	}
	for _, td := range tools {
		params.Tools = append(params.Tools, oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        td.Name,
				Description: param.NewOpt(td.Description),
				Parameters:  shared.FunctionParameters(td.Parameters),
			},
		})
	}
	return params
}
