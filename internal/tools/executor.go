package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/b0ase/kintsugi/internal/domain"
	"github.com/b0ase/kintsugi/internal/events"
	"github.com/b0ase/kintsugi/internal/policy"
)

// Authorizer decides whether a tool call may run.
type Authorizer interface {
	Evaluate(ctx context.Context, input policy.Input) (policy.Decision, error)
}

// Recorder counts tool executions.
type Recorder interface {
	RecordTool(name string, success bool)
}

// Executor dispatches tool calls to registered handlers. It never returns
// an error: every failure becomes a ToolResult with Success false.
type Executor struct {
	registry   *Registry
	sink       events.Sink
	authorizer Authorizer
	recorder   Recorder
	logger     *slog.Logger
}

// NewExecutor creates an executor. authorizer and recorder may be nil.
func NewExecutor(registry *Registry, sink events.Sink, authorizer Authorizer, recorder Recorder, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry:   registry,
		sink:       sink,
		authorizer: authorizer,
		recorder:   recorder,
		logger:     logger,
	}
}

// ExecuteTool runs a single tool call.
func (e *Executor) ExecuteTool(ctx context.Context, call domain.ToolCall, tc domain.ToolContext) domain.ToolResult {
	args, parseErr := parseArgs(call.Arguments)

	var auditArgs any = args
	if parseErr != nil {
		auditArgs = call.Arguments
	}
	e.capture(ctx, events.Event{
		EventType:  domain.EventTypeToolCall,
		ExternalID: call.ID,
		SessionID:  tc.SessionID,
		Payload:    map[string]any{"tool": call.Name, "args": auditArgs, "context": tc},
		Metadata:   map[string]any{"sessionId": tc.SessionID},
	}, call.Name)

	result := e.dispatch(ctx, call, args, parseErr, tc)
	if e.recorder != nil {
		e.recorder.RecordTool(call.Name, result.Success)
	}
	return result
}

// ExecuteTools runs all calls concurrently and returns results keyed by
// tool call id.
func (e *Executor) ExecuteTools(ctx context.Context, calls []domain.ToolCall, tc domain.ToolContext) map[string]domain.ToolResult {
	results := make(map[string]domain.ToolResult, len(calls))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, call := range calls {
		wg.Add(1)
		go func(call domain.ToolCall) {
			defer wg.Done()
			result := e.ExecuteTool(ctx, call, tc)
			mu.Lock()
			results[call.ID] = result
			mu.Unlock()
		}(call)
	}
	wg.Wait()
	return results
}

func (e *Executor) dispatch(ctx context.Context, call domain.ToolCall, args map[string]any, parseErr error, tc domain.ToolContext) domain.ToolResult {
	if parseErr != nil {
		return domain.ToolResult{Success: false, Error: "Invalid tool arguments"}
	}

	handler, ok := e.registry.Lookup(call.Name)
	if !ok {
		return domain.ToolResult{Success: false, Error: "Unknown tool: " + call.Name}
	}

	if e.authorizer != nil {
		decision, err := e.authorizer.Evaluate(ctx, policy.Input{
			ToolName:   call.Name,
			UserID:     tc.UserID,
			Role:       string(tc.Role),
			SessionID:  tc.SessionID,
			ContractID: tc.ContractID,
			Args:       args,
		})
		if err != nil {
			e.logger.Error("tool policy evaluation failed", "tool", call.Name, "session_id", tc.SessionID, "error", err)
			return domain.ToolResult{Success: false, Error: "blocked: policy evaluation failed"}
		}
		if !decision.Allowed() {
			reason := strings.Join(decision.Reasons, "; ")
			e.capture(ctx, events.Event{
				EventType:  domain.EventTypeToolBlocked,
				ExternalID: call.ID,
				SessionID:  tc.SessionID,
				Payload:    map[string]any{"tool": call.Name, "user_id": tc.UserID, "role": tc.Role, "reasons": decision.Reasons},
				Metadata:   map[string]any{"sessionId": tc.SessionID},
			}, call.Name)
			return domain.ToolResult{Success: false, Error: "blocked: " + reason}
		}
	}

	return invoke(ctx, handler, normalizedArgs(call.Arguments), tc)
}

func invoke(ctx context.Context, handler HandlerFunc, args json.RawMessage, tc domain.ToolContext) (result domain.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			result = domain.ToolResult{Success: false, Error: fmt.Sprintf("tool handler panicked: %v", r)}
		}
	}()

	data, err := handler(ctx, args, tc)
	if err != nil {
		return domain.ToolResult{Success: false, Error: err.Error()}
	}
	switch v := data.(type) {
	case domain.ToolResult:
		return v
	case *domain.ToolResult:
		if v != nil {
			return *v
		}
		return domain.ToolResult{Success: true}
	}
	return domain.ToolResult{Success: true, Data: data}
}

func (e *Executor) capture(ctx context.Context, ev events.Event, tool string) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Capture(ctx, ev); err != nil {
		e.logger.Warn("failed to capture tool event", "tool", tool, "session_id", ev.SessionID, "event_type", ev.EventType, "error", err)
	}
}

// parseArgs decodes a tool argument payload. An empty payload is an empty
// object; anything other than a JSON object is rejected.
func parseArgs(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func normalizedArgs(raw string) json.RawMessage {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(raw)
}
