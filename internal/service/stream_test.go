package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b0ase/kintsugi/internal/adapter/llm"
	"github.com/b0ase/kintsugi/internal/domain"
	"github.com/b0ase/kintsugi/internal/events"
	"github.com/b0ase/kintsugi/internal/tools"
)

func TestStreamChatRelaysEventsWithoutRunningTools(t *testing.T) {
	usage := llm.Usage{PromptTokens: 40, CompletionTokens: 5, TotalTokens: 45}
	cost := llm.Cost{Input: 0.01, Output: 0.02, Total: 0.03}
	client := &scriptedClient{stream: []llm.StreamEvent{
		{Reasoning: "thinking"},
		{Content: "Hel"},
		{Content: "lo"},
		{ToolCalls: []domain.ToolCall{{ID: "c1", Name: tools.ProposeTerms}}},
		{Done: true, Usage: &usage, Cost: &cost},
	}}
	runner := &fakeRunner{}
	sink := events.NewMemorySink()
	meter := &countingMeter{}
	orch := NewOrchestrator(client, tools.DefaultCatalog(), runner, sink, meter, Options{}, quietLogger())
	ctx := context.Background()
	session, err := orch.StartSession(ctx, founderAndDeveloper)
	require.NoError(t, err)

	stream, err := orch.StreamChat(ctx, session, "hi", "f1")
	require.NoError(t, err)

	var got []StreamEvent
	for ev := range stream.Events() {
		got = append(got, ev)
	}
	require.NoError(t, stream.Err())
	require.NoError(t, stream.Wait())

	require.Len(t, got, 5)
	assert.Equal(t, StreamEvent{Type: StreamEventReasoning, Reasoning: "thinking"}, got[0])
	assert.Equal(t, StreamEvent{Type: StreamEventContent, Content: "Hel"}, got[1])
	assert.Equal(t, StreamEvent{Type: StreamEventContent, Content: "lo"}, got[2])
	assert.Equal(t, StreamEvent{Type: StreamEventToolCall, ToolName: tools.ProposeTerms}, got[3])
	assert.Equal(t, StreamEventDone, got[4].Type)
	assert.Equal(t, "scripted", got[4].Provider)
	assert.Equal(t, &usage, got[4].Usage)

	assert.Zero(t, runner.count(), "streaming never executes tools")
	assert.Equal(t, toolNames(tools.DefaultCatalog().ForStatus(domain.StatusNegotiating)), toolNames(client.request(0).Tools))

	require.Len(t, session.Messages, 3)
	last := session.Messages[2]
	assert.Equal(t, domain.MessageRoleAssistant, last.Role)
	assert.Equal(t, "Hello", last.Content)
	assert.Equal(t, "thinking", last.Reasoning)
	assert.Empty(t, last.ToolCalls)
	requireToolMessagesPaired(t, session.Messages)

	assert.Len(t, meter.apiCalls, 1)
	assert.Equal(t, usage, meter.usage)
	turns := sink.OfType(domain.EventTypeStreamTurn)
	require.Len(t, turns, 1)
	payload := turns[0].Payload.(domain.TurnPayload)
	assert.Equal(t, []string{tools.ProposeTerms}, payload.ToolsUsed)
	assert.Equal(t, "Hello", payload.Output)
}

func TestStreamChatCancel(t *testing.T) {
	client := &scriptedClient{stream: []llm.StreamEvent{
		{Content: "a"}, {Content: "b"}, {Content: "c"}, {Content: "d"}, {Done: true},
	}}
	orch := NewOrchestrator(client, tools.DefaultCatalog(), &fakeRunner{}, nil, nil, Options{}, quietLogger())
	session, err := orch.StartSession(context.Background(), founderAndDeveloper)
	require.NoError(t, err)

	stream, err := orch.StreamChat(context.Background(), session, "hi", "f1")
	require.NoError(t, err)

	first := <-stream.Events()
	assert.Equal(t, "a", first.Content)
	stream.Cancel()
	for range stream.Events() {
	}

	assert.ErrorIs(t, stream.Wait(), context.Canceled)
	assert.Len(t, session.Messages, 2, "no assistant message after cancel")
}

func TestStreamChatProviderError(t *testing.T) {
	providerErr := errors.New("stream broke")
	client := &scriptedClient{err: providerErr}
	orch := NewOrchestrator(client, tools.DefaultCatalog(), &fakeRunner{}, nil, nil, Options{}, quietLogger())
	session, err := orch.StartSession(context.Background(), founderAndDeveloper)
	require.NoError(t, err)

	stream, err := orch.StreamChat(context.Background(), session, "hi", "f1")
	require.NoError(t, err)
	for range stream.Events() {
	}
	assert.Same(t, providerErr, stream.Err())
}

func TestStreamChatRejectsEmptyMessage(t *testing.T) {
	orch := NewOrchestrator(&scriptedClient{}, tools.DefaultCatalog(), &fakeRunner{}, nil, nil, Options{}, quietLogger())
	session, err := orch.StartSession(context.Background(), founderAndDeveloper)
	require.NoError(t, err)

	_, err = orch.StreamChat(context.Background(), session, "   ", "f1")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Len(t, session.Messages, 1)
}
