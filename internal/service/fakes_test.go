package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/b0ase/kintsugi/internal/adapter/llm"
	"github.com/b0ase/kintsugi/internal/domain"
	"github.com/b0ase/kintsugi/internal/events"
	"github.com/b0ase/kintsugi/internal/handlers"
	"github.com/b0ase/kintsugi/internal/repository"
	"github.com/b0ase/kintsugi/internal/tools"
	"github.com/b0ase/kintsugi/tests/helpers"
)

// scriptedClient replays canned responses and records every request.
type scriptedClient struct {
	mu        sync.Mutex
	responses []*llm.Response
	repeat    *llm.Response
	stream    []llm.StreamEvent
	err       error
	requests  []*llm.Request
}

func (c *scriptedClient) Name() string { return "scripted" }

func (c *scriptedClient) Complete(_ context.Context, req *llm.Request) (*llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if c.err != nil {
		return nil, c.err
	}
	if len(c.responses) > 0 {
		resp := c.responses[0]
		c.responses = c.responses[1:]
		return resp, nil
	}
	if c.repeat != nil {
		r := *c.repeat
		r.ToolCalls = []domain.ToolCall{{
			ID:        fmt.Sprintf("call_%d", len(c.requests)),
			Name:      c.repeat.ToolCalls[0].Name,
			Arguments: c.repeat.ToolCalls[0].Arguments,
		}}
		return &r, nil
	}
	return nil, errors.New("script exhausted")
}

func (c *scriptedClient) Stream(ctx context.Context, req *llm.Request, callback llm.StreamCallback) error {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	script := c.stream
	c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	for _, ev := range script {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := callback(ev); err != nil {
			return err
		}
	}
	return nil
}

func (c *scriptedClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func (c *scriptedClient) request(i int) *llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[i]
}

// fakeRunner succeeds every call and counts executions.
type fakeRunner struct {
	mu    sync.Mutex
	calls []domain.ToolCall
}

func (r *fakeRunner) ExecuteTools(_ context.Context, calls []domain.ToolCall, _ domain.ToolContext) map[string]domain.ToolResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]domain.ToolResult, len(calls))
	for _, call := range calls {
		r.calls = append(r.calls, call)
		out[call.ID] = domain.ToolResult{Success: true, Data: map[string]any{"tool": call.Name}}
	}
	return out
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// countingMeter records the metering hooks.
type countingMeter struct {
	mu       sync.Mutex
	apiCalls []string
	usage    llm.Usage
	cost     llm.Cost
}

func (m *countingMeter) MeterAPICall(engine, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apiCalls = append(m.apiCalls, engine+"/"+sessionID)
}

func (m *countingMeter) RecordUsage(_ string, usage llm.Usage, cost llm.Cost) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = m.usage.Add(usage)
	m.cost = m.cost.Add(cost)
}

func (m *countingMeter) RecordTool(string, bool) {}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func toolCall(id, name string, args any) domain.ToolCall {
	raw, _ := json.Marshal(args)
	return domain.ToolCall{ID: id, Name: name, Arguments: string(raw)}
}

var founderAndDeveloper = []domain.Participant{
	{ID: "f1", Role: domain.RoleFounder},
	{ID: "d1", Role: domain.RoleDeveloper},
}

type harness struct {
	orch   *Orchestrator
	client *scriptedClient
	sink   *events.MemorySink
	meter  *countingMeter
	store  *repository.SQLiteStore
}

// newHarness wires an orchestrator to the real executor and ledger handlers.
func newHarness(t *testing.T, client *scriptedClient, opts Options) *harness {
	t.Helper()
	store := helpers.NewTestSQLiteStore(t)
	sink := events.NewMemorySink()
	registry := tools.NewRegistry()
	require.NoError(t, handlers.New(store, sink, quietLogger()).Register(registry))
	executor := tools.NewExecutor(registry, sink, nil, nil, quietLogger())
	meter := &countingMeter{}
	return &harness{
		orch:   NewOrchestrator(client, tools.DefaultCatalog(), executor, sink, meter, opts, quietLogger()),
		client: client,
		sink:   sink,
		meter:  meter,
		store:  store,
	}
}

func toolNames(defs []domain.ToolDefinition) []string {
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}

// requireToolMessagesPaired checks that every tool message answers a call
// of the nearest preceding assistant message, with only tool messages in
// between.
func requireToolMessagesPaired(t *testing.T, messages []domain.Message) {
	t.Helper()
	var open map[string]bool
	for i, m := range messages {
		switch m.Role {
		case domain.MessageRoleAssistant:
			open = map[string]bool{}
			for _, c := range m.ToolCalls {
				open[c.ID] = true
			}
		case domain.MessageRoleTool:
			require.NotNil(t, open, "tool message %d without preceding assistant", i)
			require.True(t, open[m.ToolCallID], "tool message %d answers unknown call %q", i, m.ToolCallID)
			delete(open, m.ToolCallID)
		default:
			open = nil
		}
	}
}
