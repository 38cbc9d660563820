package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/pipeline"
)

// GoogleLLM calls Gemini's one-shot generateContent endpoint. Gemini's REST
// API does support server-sent streaming (streamGenerateContent), but this
// provider is kept as the non-streaming call the teacher wrote and adapted
// to the streaming pipeline.LLMProvider contract by emitting the full reply
// as a single token immediately followed by completion; it does not stream
// incrementally.
type GoogleLLM struct {
	apiKey string
	url    string
	model  string
	client *http.Client
}

// NewGoogleLLM returns a pipeline.LLMProvider backed by Gemini.
func NewGoogleLLM(apiKey, model string) *GoogleLLM {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &GoogleLLM{
		apiKey: apiKey,
		url:    "https://generativelanguage.googleapis.com/v1beta/models/" + model + ":generateContent",
		model:  model,
		client: &http.Client{},
	}
}

func (l *GoogleLLM) Name() string { return "google-llm" }

type googlePart struct {
	Text         string              `json:"text,omitempty"`
	FunctionCall *googleFunctionCall `json:"functionCall,omitempty"`
}

type googleFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type googleContent struct {
	Role  string       `json:"role"`
	Parts []googlePart `json:"parts"`
}

type googleFunctionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Stream implements pipeline.LLMProvider via one synchronous
// generateContent call. systemPrompt is folded in as a leading user turn
// since the v1beta REST shape used here predates first-class
// systemInstruction support on some model versions.
func (l *GoogleLLM) Stream(ctx context.Context, messages []pipeline.Message, tools []pipeline.ToolDefinition, systemPrompt string, cb pipeline.LLMCallbacks) (pipeline.LLMSession, error) {
	var contents []googleContent
	if systemPrompt != "" {
		contents = append(contents, googleContent{Role: "user", Parts: []googlePart{{Text: systemPrompt}}})
	}
	for _, m := range messages {
		role := "user"
		text := m.Content
		switch m.Role {
		case pipeline.RoleAssistant:
			role = "model"
		case pipeline.RoleTool:
			role = "user"
			text = fmt.Sprintf("[tool result for %s]: %s", m.ToolName, m.Content)
		}
		if text == "" {
			continue
		}
		contents = append(contents, googleContent{Role: role, Parts: []googlePart{{Text: text}}})
	}

	payload := map[string]any{"contents": contents}
	if len(tools) > 0 {
		var decls []googleFunctionDecl
		for _, td := range tools {
			decls = append(decls, googleFunctionDecl{Name: td.Name, Description: td.Description, Parameters: td.Parameters})
		}
		payload["tools"] = []map[string]any{{"functionDeclarations": decls}}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("google: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url+"?key="+l.apiKey, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("google: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	sess := &googleSession{}
	go sess.run(l.client, req, cb)
	return sess, nil
}

type googleSession struct {
	aborted bool
}

func (s *googleSession) Abort() { s.aborted = true }

func (s *googleSession) run(client *http.Client, req *http.Request, cb pipeline.LLMCallbacks) {
	resp, err := client.Do(req)
	if err != nil {
		if cb.Error != nil {
			cb.Error(fmt.Errorf("google: request: %w", err))
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp any
		json.NewDecoder(resp.Body).Decode(&errResp)
		if cb.Error != nil {
			cb.Error(fmt.Errorf("google: status %d: %v", resp.StatusCode, errResp))
		}
		return
	}

	var result struct {
		Candidates []struct {
			Content googleContent `json:"content"`
		} `json:"candidates"`
		UsageMetadata struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
			TotalTokenCount      int `json:"totalTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		if cb.Error != nil {
			cb.Error(fmt.Errorf("google: decode response: %w", err))
		}
		return
	}
	if s.aborted {
		return
	}
	if len(result.Candidates) == 0 {
		if cb.Error != nil {
			cb.Error(fmt.Errorf("google: no candidates returned"))
		}
		return
	}

	var text string
	var calls []pipeline.ToolCall
	for i, part := range result.Candidates[0].Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
		if part.FunctionCall != nil {
			args, _ := json.Marshal(part.FunctionCall.Args)
			calls = append(calls, pipeline.ToolCall{
				ID:        fmt.Sprintf("call_%d", i),
				Name:      part.FunctionCall.Name,
				Arguments: string(args),
			})
		}
	}

	if text != "" && cb.Token != nil {
		cb.Token(text)
	}
	for _, call := range calls {
		if cb.ToolCall != nil {
			cb.ToolCall(call)
		}
	}
	if cb.Complete != nil {
		cb.Complete(pipeline.LLMResponse{
			Text:      text,
			ToolCalls: calls,
			Usage: pipeline.LLMUsage{
				PromptTokens:     result.UsageMetadata.PromptTokenCount,
				CompletionTokens: result.UsageMetadata.CandidatesTokenCount,
				TotalTokens:      result.UsageMetadata.TotalTokenCount,
			},
		})
	}
}
