package tools

import (
	"context"
	"encoding/json"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/pipeline"
)

// EndCallToolName re-exports pipeline.EndCallToolName so callers that only
// import this package can still reference the reserved name.
const EndCallToolName = pipeline.EndCallToolName

// EndCallArgs is the expected argument shape for the end_call tool.
type EndCallArgs struct {
	Reason string `json:"reason"`
}

// RegisterEndCall adds the built-in end_call tool to r. onRequested is
// invoked with the caller-supplied reason. The session_end_requested event
// and the 500ms-delayed stop do not go through onRequested: the
// orchestrator emits and schedules them itself when it sees the end_call
// tool name.
func RegisterEndCall(r *Registry, onRequested func(reason string)) {
	r.Register(pipeline.ToolDefinition{
		Name:        EndCallToolName,
		Description: "End the call when the conversation has reached a natural conclusion.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"reason": map[string]any{"type": "string"},
			},
		},
		Idempotent: true,
	}, func(ctx context.Context, args json.RawMessage, sessionID string, callContext any) (any, error) {
		var parsed EndCallArgs
		_ = json.Unmarshal(args, &parsed)
		if onRequested != nil {
			onRequested(parsed.Reason)
		}
		return map[string]any{"ended": true}, nil
	})
}
