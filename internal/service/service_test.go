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

func newTestService(t *testing.T, client *scriptedClient) (*Service, *harness) {
	t.Helper()
	h := newHarness(t, client, Options{})
	recorder := events.NewRecorder(h.store)
	h.orch.sink = recorder
	return New(h.orch, h.store, tools.DefaultCatalog(), quietLogger()), h
}

func TestServiceChatPersistsHistory(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{
		{ToolCalls: []domain.ToolCall{toolCall("call_1", tools.ProposeTerms, map[string]any{
			"negotiation_id": "neg_1",
			"proposer_id":    "f1",
			"terms":          map[string]any{"total_value_usd": 5000},
		})}},
		{Content: "Recorded."},
	}}
	svc, _ := newTestService(t, client)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, founderAndDeveloper)
	require.NoError(t, err)

	result, err := svc.Chat(ctx, session.SessionID, "I propose $5000 for the MVP", "f1")
	require.NoError(t, err)
	assert.Equal(t, "Recorded.", result.Response)

	stored, err := svc.GetSession(ctx, session.SessionID)
	require.NoError(t, err)
	require.Len(t, stored.Messages, 5)
	assert.Equal(t, []domain.MessageRole{
		domain.MessageRoleSystem,
		domain.MessageRoleUser,
		domain.MessageRoleAssistant,
		domain.MessageRoleTool,
		domain.MessageRoleAssistant,
	}, roles(stored.Messages))
	assert.Equal(t, "call_1", stored.Messages[2].ToolCalls[0].ID)
	requireToolMessagesPaired(t, stored.Messages)

	evts, err := svc.ListEvents(ctx, session.SessionID, []string{string(domain.EventTypeChatTurn)}, 0)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.NotEmpty(t, evts[0].ContentHash)
}

func roles(messages []domain.Message) []domain.MessageRole {
	out := make([]domain.MessageRole, len(messages))
	for i, m := range messages {
		out[i] = m.Role
	}
	return out
}

func TestServiceChatKeepsPartialHistoryOnProviderError(t *testing.T) {
	client := &scriptedClient{}
	svc, _ := newTestService(t, client)
	ctx := context.Background()
	session, err := svc.CreateSession(ctx, founderAndDeveloper)
	require.NoError(t, err)

	client.err = errors.New("upstream down")
	_, err = svc.Chat(ctx, session.SessionID, "hello", "f1")
	require.EqualError(t, err, "upstream down")

	stored, err := svc.GetSession(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 2)
}

func TestServiceUnknownSession(t *testing.T) {
	svc, _ := newTestService(t, &scriptedClient{})
	ctx := context.Background()

	_, err := svc.GetSession(ctx, "sess_missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = svc.Chat(ctx, "sess_missing", "hi", "f1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = svc.UpdateStatus(ctx, "sess_missing", domain.StatusDisputed, "")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = svc.ListEvents(ctx, "sess_missing", nil, 0)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestServiceStatusAndContract(t *testing.T) {
	svc, _ := newTestService(t, &scriptedClient{})
	ctx := context.Background()
	session, err := svc.CreateSession(ctx, founderAndDeveloper)
	require.NoError(t, err)

	linked, err := svc.LinkContract(ctx, session.SessionID, "ctr_123")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusContracted, linked.Status)

	_, err = svc.UpdateStatus(ctx, session.SessionID, "bogus", "")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	updated, err := svc.UpdateStatus(ctx, session.SessionID, domain.StatusExecuting, "signed")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExecuting, updated.Status)

	stored, err := svc.GetSession(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "ctr_123", stored.ContractID)
	assert.Equal(t, domain.StatusExecuting, stored.Status)

	evts, err := svc.ListEvents(ctx, session.SessionID, nil, 0)
	require.NoError(t, err)
	var types []domain.EventType
	for _, e := range evts {
		types = append(types, e.Type)
	}
	assert.Equal(t, []domain.EventType{
		domain.EventTypeSessionStarted,
		domain.EventTypeContractLinked,
		domain.EventTypeStatusChanged,
	}, types)
}

func TestServiceStreamChat(t *testing.T) {
	client := &scriptedClient{stream: []llm.StreamEvent{{Content: "Hi "}, {Content: "there"}, {Done: true}}}
	svc, _ := newTestService(t, client)
	ctx := context.Background()
	session, err := svc.CreateSession(ctx, founderAndDeveloper)
	require.NoError(t, err)

	var types []StreamEventType
	err = svc.StreamChat(ctx, session.SessionID, "hello", "d1", func(ev StreamEvent) error {
		types = append(types, ev.Type)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []StreamEventType{StreamEventContent, StreamEventContent, StreamEventDone}, types)

	stored, err := svc.GetSession(ctx, session.SessionID)
	require.NoError(t, err)
	require.Len(t, stored.Messages, 3)
	assert.Equal(t, "Hi there", stored.Messages[2].Content)
}

func TestServiceStreamChatConsumerError(t *testing.T) {
	client := &scriptedClient{stream: []llm.StreamEvent{{Content: "a"}, {Content: "b"}, {Done: true}}}
	svc, _ := newTestService(t, client)
	ctx := context.Background()
	session, err := svc.CreateSession(ctx, founderAndDeveloper)
	require.NoError(t, err)

	gone := errors.New("client went away")
	err = svc.StreamChat(ctx, session.SessionID, "hello", "d1", func(StreamEvent) error { return gone })
	assert.ErrorIs(t, err, gone)

	stored, err := svc.GetSession(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 2)
}

func TestServiceListTools(t *testing.T) {
	svc, _ := newTestService(t, &scriptedClient{})

	all, err := svc.ListTools("")
	require.NoError(t, err)
	assert.Len(t, all, 23)

	completed, err := svc.ListTools(string(domain.StatusCompleted))
	require.NoError(t, err)
	assert.NotEmpty(t, completed)
	for _, def := range completed {
		assert.True(t, def.ReadOnly, def.Name)
		assert.Equal(t, domain.CategoryContract, def.Category)
	}

	_, err = svc.ListTools("archived")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestServicePlaceOrder(t *testing.T) {
	svc, h := newTestService(t, &scriptedClient{})
	ctx := context.Background()

	tests := []struct {
		name string
		req  PlaceOrderRequest
	}{
		{"missing token", PlaceOrderRequest{UserID: "u", Side: domain.OrderSideBuy, PriceSats: 1, Amount: 1}},
		{"missing user", PlaceOrderRequest{TokenID: "tok", Side: domain.OrderSideBuy, PriceSats: 1, Amount: 1}},
		{"bad side", PlaceOrderRequest{TokenID: "tok", UserID: "u", Side: "hold", PriceSats: 1, Amount: 1}},
		{"zero price", PlaceOrderRequest{TokenID: "tok", UserID: "u", Side: domain.OrderSideSell, Amount: 1}},
		{"zero amount", PlaceOrderRequest{TokenID: "tok", UserID: "u", Side: domain.OrderSideSell, PriceSats: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.PlaceOrder(ctx, tt.req)
			assert.ErrorIs(t, err, ErrInvalidOrder)
		})
	}

	order, err := svc.PlaceOrder(ctx, PlaceOrderRequest{TokenID: "tok", UserID: "u", Side: domain.OrderSideBuy, PriceSats: 100, Amount: 5})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusOpen, order.Status)

	pending, err := h.store.PendingQueueItems(ctx, "tok", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, order.OrderID, pending[0].OrderID)
}
