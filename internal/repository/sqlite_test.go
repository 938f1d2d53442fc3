package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b0ase/kintsugi/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestSessionRoundTripAndAppend(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	session := &domain.Session{
		SessionID: "s1",
		Participants: []domain.Participant{
			{ID: "f1", Role: domain.RoleFounder, Name: "Alice"},
			{ID: "d1", Role: domain.RoleDeveloper},
		},
		Status:    domain.StatusNegotiating,
		Messages:  []domain.Message{{Role: domain.MessageRoleSystem, Content: "sys", CreatedAt: now}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.SaveSession(ctx, session))

	session.Messages = append(session.Messages,
		domain.Message{Role: domain.MessageRoleUser, Content: "[FOUNDER - Alice]: hi", SenderID: "f1", CreatedAt: now},
		domain.Message{Role: domain.MessageRoleAssistant, ToolCalls: []domain.ToolCall{{ID: "c1", Name: "propose_terms", Arguments: `{}`}}, CreatedAt: now},
		domain.Message{Role: domain.MessageRoleTool, Content: `{"success":true}`, ToolCallID: "c1", CreatedAt: now},
	)
	session.Status = domain.StatusContracted
	session.ContractID = "ctr_1"
	session.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, store.SaveSession(ctx, session))

	got, err := store.LoadSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusContracted, got.Status)
	assert.Equal(t, "ctr_1", got.ContractID)
	assert.Equal(t, session.Participants, got.Participants)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "f1", got.Messages[1].SenderID)
	assert.Equal(t, "propose_terms", got.Messages[2].ToolCalls[0].Name)
	assert.Equal(t, "c1", got.Messages[3].ToolCallID)

	// History cannot shrink.
	session.Messages = session.Messages[:1]
	assert.Error(t, store.SaveSession(ctx, session))
}

func TestLoadSessionNotFound(t *testing.T) {
	_, err := newTestStore(t).LoadSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEvents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for i, typ := range []domain.EventType{domain.EventTypeSessionStarted, domain.EventTypeToolCall, domain.EventTypeChatTurn} {
		require.NoError(t, store.CreateEvent(ctx, &domain.Event{
			EventID:     "evt_" + string(rune('a'+i)),
			Source:      domain.EventSourceAgent,
			Type:        typ,
			SessionID:   "s1",
			Payload:     json.RawMessage(`{"n":1}`),
			ContentHash: "hash",
			Ts:          now.Add(time.Duration(i) * time.Second),
		}))
	}

	all, err := store.ListEvents(ctx, "s1", nil, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, domain.EventTypeSessionStarted, all[0].Type)
	assert.JSONEq(t, `{"n":1}`, string(all[0].Payload))

	tools, err := store.ListEvents(ctx, "s1", []string{string(domain.EventTypeToolCall)}, 10)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "evt_b", tools[0].EventID)
}

func testContract() *domain.Contract {
	return &domain.Contract{
		ContractID:    "ctr_1",
		Title:         "MVP",
		Description:   "Build it",
		FounderID:     "f1",
		DeveloperID:   "d1",
		TotalValueUSD: 5000,
		Status:        domain.ContractStatusDraft,
		Milestones: []domain.Milestone{
			{MilestoneID: "ms_1", Title: "Design", ValueUSD: 2000, Status: domain.MilestoneStatusPending},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestContracts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	c := testContract()
	require.NoError(t, store.CreateContract(ctx, c))

	got, err := store.GetContract(ctx, "ctr_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Design", got.Milestones[0].Title)
	assert.Empty(t, got.Signatures)

	got.Status = domain.ContractStatusActive
	got.Signatures = append(got.Signatures, domain.Signature{UserID: "f1", Role: domain.RoleFounder, SignedAt: now})
	require.NoError(t, store.UpdateContract(ctx, got))

	byDev, err := store.ListContracts(ctx, domain.ContractFilter{UserID: "d1", Role: "developer"})
	require.NoError(t, err)
	require.Len(t, byDev, 1)
	assert.Len(t, byDev[0].Signatures, 1)

	asFounder, err := store.ListContracts(ctx, domain.ContractFilter{UserID: "d1", Role: "founder"})
	require.NoError(t, err)
	assert.Empty(t, asFounder)

	drafts, err := store.ListContracts(ctx, domain.ContractFilter{UserID: "f1", Status: domain.ContractStatusDraft})
	require.NoError(t, err)
	assert.Empty(t, drafts)

	missing, err := store.GetContract(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.ErrorIs(t, store.UpdateContract(ctx, &domain.Contract{ContractID: "nope"}), ErrNotFound)
}

func TestEscrowBalance(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateContract(ctx, testContract()))

	entries := []domain.EscrowEntry{
		{EntryID: "e1", Kind: domain.EscrowKindFund, AmountUSD: 3000, UserID: "f1", Status: domain.EscrowStatusCompleted},
		{EntryID: "e2", Kind: domain.EscrowKindFund, AmountUSD: 1000, UserID: "i1", Status: domain.EscrowStatusCompleted},
		{EntryID: "e3", Kind: domain.EscrowKindRefund, AmountUSD: 500, UserID: "f1", Status: domain.EscrowStatusPendingReview},
		{EntryID: "e4", Kind: domain.EscrowKindRefund, AmountUSD: 250, UserID: "f1", Status: domain.EscrowStatusCompleted},
	}
	for i := range entries {
		entries[i].ContractID = "ctr_1"
		entries[i].CreatedAt = now
		require.NoError(t, store.CreateEscrowEntry(ctx, &entries[i]))
	}

	c, err := store.GetContract(ctx, "ctr_1")
	require.NoError(t, err)
	c.Milestones[0].Status = domain.MilestoneStatusPaid
	require.NoError(t, store.ReleaseMilestone(ctx, c, &domain.EscrowEntry{
		EntryID: "e5", ContractID: "ctr_1", Kind: domain.EscrowKindRelease, AmountUSD: 2000,
		UserID: "d1", MilestoneID: "ms_1", Status: domain.EscrowStatusCompleted, CreatedAt: now,
	}))

	balance, err := store.EscrowBalance(ctx, "ctr_1")
	require.NoError(t, err)
	assert.Equal(t, 4000.0, balance.TotalFunded)
	assert.Equal(t, 2000.0, balance.TotalReleased)
	assert.Equal(t, 250.0, balance.TotalRefunded)
	assert.Equal(t, 1750.0, balance.BalanceUSD)

	listed, err := store.ListEscrowEntries(ctx, "ctr_1")
	require.NoError(t, err)
	assert.Len(t, listed, 5)

	c, err = store.GetContract(ctx, "ctr_1")
	require.NoError(t, err)
	assert.Equal(t, domain.MilestoneStatusPaid, c.Milestones[0].Status)
}

func TestDisputes(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	c := testContract()
	require.NoError(t, store.CreateContract(ctx, c))

	c.Status = domain.ContractStatusDisputed
	d := &domain.Dispute{
		DisputeID: "dsp_1", ContractID: "ctr_1", RaisedBy: "f1", DisputeType: "quality",
		Description: "Broken build", Evidence: []string{"https://ci/1"}, Status: domain.DisputeStatusOpen, CreatedAt: now,
	}
	require.NoError(t, store.CreateDispute(ctx, d, c))

	d.Responses = append(d.Responses, domain.DisputeResponse{ResponderID: "d1", Response: "Fixed", RespondedAt: now})
	d.Status = domain.DisputeStatusResponseReceived
	require.NoError(t, store.UpdateDispute(ctx, d))

	resolvedAt := now.Add(time.Hour)
	d.Status = domain.DisputeStatusResolved
	d.ResolutionType = "mediated"
	d.Outcome = &domain.DisputeOutcome{RefundPercentage: 10, ContinueContract: true}
	d.ResolvedAt = &resolvedAt
	c.Status = domain.ContractStatusActive
	require.NoError(t, store.ResolveDispute(ctx, d, c, nil))

	got, err := store.GetDispute(ctx, "dsp_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.DisputeStatusResolved, got.Status)
	assert.Equal(t, []string{"https://ci/1"}, got.Evidence)
	require.Len(t, got.Responses, 1)
	assert.Equal(t, 10.0, got.Outcome.RefundPercentage)
	require.NotNil(t, got.ResolvedAt)

	contract, err := store.GetContract(ctx, "ctr_1")
	require.NoError(t, err)
	assert.Equal(t, domain.ContractStatusActive, contract.Status)
}

func TestProposals(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.CreateProposal(ctx, &domain.Proposal{
		ProposalID: "p1", NegotiationID: "neg_1", ProposedBy: "f1",
		Terms: domain.Terms{TotalValueUSD: 5000}, Status: domain.ProposalStatusPending, CreatedAt: now,
	}))
	require.NoError(t, store.CreateProposal(ctx, &domain.Proposal{
		ProposalID: "p2", NegotiationID: "neg_1", ProposedBy: "d1", Counter: true,
		Terms: domain.Terms{TotalValueUSD: 6500, TimelineDays: 30}, Status: domain.ProposalStatusCounterProposed, CreatedAt: now.Add(time.Minute),
	}))

	open, err := store.OpenProposal(ctx, "neg_1")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, "p2", open.ProposalID)
	assert.True(t, open.Counter)
	assert.Equal(t, 6500.0, open.Terms.TotalValueUSD)

	require.NoError(t, store.AcceptProposal(ctx, "p2", "f1"))
	open, err = store.OpenProposal(ctx, "neg_1")
	require.NoError(t, err)
	assert.Nil(t, open)
}

func TestOrdersTradesAndQueue(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	buy := &domain.Order{OrderID: "b1", TokenID: "KINT", UserID: "u1", Side: domain.OrderSideBuy, PriceSats: 100, Amount: 10, Status: domain.OrderStatusOpen, CreatedAt: now}
	sell := &domain.Order{OrderID: "s1", TokenID: "KINT", UserID: "u2", Side: domain.OrderSideSell, PriceSats: 90, Amount: 4, Status: domain.OrderStatusOpen, CreatedAt: now.Add(time.Second)}
	require.NoError(t, store.CreateOrder(ctx, buy, 1))
	require.NoError(t, store.CreateOrder(ctx, sell, 5))

	items, err := store.PendingQueueItems(ctx, "KINT", 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "s1", items[0].OrderID)

	buy.FilledAmount, buy.Status = 4, domain.OrderStatusPartial
	sell.FilledAmount, sell.Status = 4, domain.OrderStatusFilled
	require.NoError(t, store.RecordTrade(ctx, &domain.Trade{
		TradeID: "t1", TokenID: "KINT", BuyOrderID: "b1", SellOrderID: "s1", BuyerID: "u1", SellerID: "u2",
		PriceSats: 90, Amount: 4, TotalSats: 360, ExecutedAt: now,
	}, buy, sell))

	open, err := store.ListOpenOrders(ctx, "KINT")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, int64(4), open[0].FilledAmount)

	trades, err := store.ListTrades(ctx, "KINT", 20)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, int64(360), trades[0].TotalSats)

	require.NoError(t, store.MarkQueueItems(ctx, []string{items[0].ItemID, items[1].ItemID}, domain.QueueStatusCompleted, now))
	items, err = store.PendingQueueItems(ctx, "KINT", 10)
	require.NoError(t, err)
	assert.Empty(t, items)

	missing, err := store.GetOrder(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestKeyedLockSerializesPerKey(t *testing.T) {
	lock := NewKeyedLock()
	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = lock.WithLock(context.Background(), "s1", func(context.Context) error {
				n := atomic.AddInt32(&active, 1)
				for {
					m := atomic.LoadInt32(&maxActive)
					if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxActive)
	assert.Empty(t, lock.slots)
}

func TestKeyedLockHonoursContext(t *testing.T) {
	lock := NewKeyedLock()
	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = lock.WithLock(context.Background(), "s1", func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := lock.WithLock(ctx, "s1", func(context.Context) error { return nil })
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	// Other keys are independent.
	assert.NoError(t, lock.WithLock(context.Background(), "s2", func(context.Context) error { return nil }))
	close(release)
}
