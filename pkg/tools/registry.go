// Package tools implements the tool registry the Turn Orchestrator invokes
// mid-stream: lookup of available ToolDefinitions and execution of a named
// tool against caller-supplied arguments.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/pipeline"
)

// Handler executes one tool call and returns its result (marshalable to
// JSON) or an error.
type Handler func(ctx context.Context, args json.RawMessage, sessionID string, callContext any) (any, error)

// Execution is the result of one tool invocation: {success, result?,
// error?, latencyMs}.
type Execution struct {
	Success   bool
	Result    any
	Error     string
	LatencyMs int64
}

// Registry is a thread-safe, in-memory tool registry. Concrete
// deployments would back this with a database or RPC to a
// tool-execution service; the core only ever depends on this
// interface-shaped contract.
type Registry struct {
	mu       sync.RWMutex
	defs     map[string]pipeline.ToolDefinition
	handlers map[string]Handler
	order    []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		defs:     make(map[string]pipeline.ToolDefinition),
		handlers: make(map[string]Handler),
	}
}

// Register adds a tool definition and its handler. name should already be
// sanitized (pipeline.SanitizeToolName); Register does not re-sanitize so
// that callers control registration order deterministically.
func (r *Registry) Register(def pipeline.ToolDefinition, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Name]; !exists {
		r.order = append(r.order, def.Name)
	}
	r.defs[def.Name] = def
	r.handlers[def.Name] = handler
}

// Definitions returns the registered ToolDefinitions in registration order.
func (r *Registry) Definitions() []pipeline.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]pipeline.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.defs[name])
	}
	return out
}

// Execute invokes the named tool, bounded by timeout (default 30s).
func (r *Registry) Execute(ctx context.Context, toolName string, args json.RawMessage, sessionID string, callContext any, timeout time.Duration) Execution {
	r.mu.RLock()
	handler, ok := r.handlers[toolName]
	r.mu.RUnlock()
	if !ok {
		return Execution{Success: false, Error: fmt.Sprintf("unknown tool %q", toolName)}
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := handler(callCtx, args, sessionID, callContext)
		done <- outcome{result, err}
	}()

	select {
	case o := <-done:
		latency := time.Since(start).Milliseconds()
		if o.err != nil {
			return Execution{Success: false, Error: o.err.Error(), LatencyMs: latency}
		}
		return Execution{Success: true, Result: o.result, LatencyMs: latency}
	case <-callCtx.Done():
		return Execution{Success: false, Error: "tool execution timed out", LatencyMs: time.Since(start).Milliseconds()}
	}
}

// AsExecutor adapts r to pipeline.ToolExecutor, translating Execution's
// {success, result, error} shape into a plain (result, error) return so
// the core package never needs to import this package's types.
func (r *Registry) AsExecutor() pipeline.ToolExecutor {
	return registryExecutor{r}
}

type registryExecutor struct{ r *Registry }

func (e registryExecutor) Execute(ctx context.Context, toolName string, args json.RawMessage, sessionID string, callContext any, timeout time.Duration) (any, error) {
	exec := e.r.Execute(ctx, toolName, args, sessionID, callContext, timeout)
	if !exec.Success {
		return nil, errors.New(exec.Error)
	}
	return exec.Result, nil
}
