package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b0ase/kintsugi/internal/domain"
	"github.com/b0ase/kintsugi/internal/events"
	"github.com/b0ase/kintsugi/internal/repository"
	"github.com/b0ase/kintsugi/internal/tools"
	"github.com/b0ase/kintsugi/tests/helpers"
)

type fixture struct {
	h     *Handlers
	store *repository.SQLiteStore
	sink  *events.MemorySink
	tc    domain.ToolContext
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := helpers.NewTestSQLiteStore(t)
	sink := events.NewMemorySink()
	h := New(store, sink, slog.New(slog.NewTextHandler(io.Discard, nil)))

	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return &fixture{
		h:     h,
		store: store,
		sink:  sink,
		tc:    domain.ToolContext{UserID: "f1", SessionID: "sess_1", Role: domain.RoleFounder},
	}
}

// call invokes a handler through the registry, the way the executor does.
func (f *fixture) call(t *testing.T, name string, args map[string]any) (any, error) {
	t.Helper()
	r := tools.NewRegistry()
	require.NoError(t, f.h.Register(r))
	fn, ok := r.Lookup(name)
	require.True(t, ok, "handler %s not registered", name)
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	return fn(context.Background(), raw, f.tc)
}

func (f *fixture) mustCall(t *testing.T, name string, args map[string]any) any {
	t.Helper()
	out, err := f.call(t, name, args)
	require.NoError(t, err)
	return out
}

func (f *fixture) contract(t *testing.T, id string) *domain.Contract {
	t.Helper()
	c, err := f.store.GetContract(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, c)
	return c
}

// activeContract creates and fully signs a two-milestone contract.
func (f *fixture) activeContract(t *testing.T) string {
	t.Helper()
	out := f.mustCall(t, tools.CreateContract, map[string]any{
		"title":           "MVP build",
		"description":     "Build the first version",
		"founder_id":      "f1",
		"developer_id":    "d1",
		"total_value_usd": 5000,
		"milestones": []map[string]any{
			{"title": "Design", "value_usd": 2000, "due_days": 14},
			{"title": "Launch", "value_usd": 3000, "due_days": 30},
		},
	})
	id := out.(*domain.Contract).ContractID
	f.mustCall(t, tools.SignContract, map[string]any{"contract_id": id, "user_id": "f1", "role": "founder"})
	f.mustCall(t, tools.SignContract, map[string]any{"contract_id": id, "user_id": "d1", "role": "developer"})
	require.Equal(t, domain.ContractStatusActive, f.contract(t, id).Status)
	return id
}

func TestRegisterCoversCatalog(t *testing.T) {
	f := newFixture(t)
	r := tools.NewRegistry()
	require.NoError(t, f.h.Register(r))

	for _, def := range tools.DefaultCatalog().All() {
		_, ok := r.Lookup(def.Name)
		assert.True(t, ok, "no handler for %s", def.Name)
	}
	assert.Len(t, r.Names(), len(tools.DefaultCatalog().All()))
}

func TestCreateContractValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing title", map[string]any{"description": "d", "founder_id": "f1", "total_value_usd": 10}, "title is required"},
		{"zero value", map[string]any{"title": "t", "description": "d", "founder_id": "f1"}, "total_value_usd must be positive"},
		{"equity out of range", map[string]any{"title": "t", "description": "d", "founder_id": "f1", "total_value_usd": 10, "equity_percentage": 120}, "equity_percentage"},
		{"milestones exceed total", map[string]any{
			"title": "t", "description": "d", "founder_id": "f1", "total_value_usd": 100,
			"milestones": []map[string]any{{"title": "a", "value_usd": 60}, {"title": "b", "value_usd": 50}},
		}, "exceed total_value_usd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.call(t, tools.CreateContract, tt.args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestContractLifecycle(t *testing.T) {
	f := newFixture(t)

	out := f.mustCall(t, tools.CreateContract, map[string]any{
		"title":           "MVP build",
		"description":     "Build the first version",
		"founder_id":      "f1",
		"total_value_usd": 1000,
		"milestones":      []map[string]any{{"title": "All", "value_usd": 1000}},
	})
	c := out.(*domain.Contract)
	assert.Equal(t, domain.ContractStatusDraft, c.Status)
	assert.Equal(t, "ms_1", c.Milestones[0].MilestoneID)
	assert.Equal(t, "f1", c.CreatedBy)
	assert.Equal(t, "sess_1", c.SessionID)

	f.mustCall(t, tools.SignContract, map[string]any{"contract_id": c.ContractID, "user_id": "f1", "role": "founder"})
	assert.Equal(t, domain.ContractStatusPendingSignatures, f.contract(t, c.ContractID).Status)

	_, err := f.call(t, tools.SignContract, map[string]any{"contract_id": c.ContractID, "user_id": "f1", "role": "founder"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already signed")

	_, err = f.call(t, tools.SignContract, map[string]any{"contract_id": c.ContractID, "user_id": "x9", "role": "founder"})
	require.Error(t, err)

	// The developer slot is claimed by the first developer to sign.
	res := f.mustCall(t, tools.SignContract, map[string]any{"contract_id": c.ContractID, "user_id": "d1", "role": "developer"}).(map[string]any)
	assert.Equal(t, domain.ContractStatusActive, res["status"])
	assert.Equal(t, "d1", f.contract(t, c.ContractID).DeveloperID)

	_, err = f.call(t, tools.SignContract, map[string]any{"contract_id": c.ContractID, "user_id": "i1", "role": "investor"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "can no longer be signed")

	list := f.mustCall(t, tools.ListContracts, map[string]any{"user_id": "d1", "role": "developer"}).(map[string]any)
	assert.Equal(t, 1, list["count"])
	list = f.mustCall(t, tools.ListContracts, map[string]any{"user_id": "d1", "role": "founder"}).(map[string]any)
	assert.Equal(t, 0, list["count"])

	assert.Len(t, f.sink.OfType(domain.EventTypeContractCreated), 1)
	assert.Len(t, f.sink.OfType(domain.EventTypeContractSigned), 2)
	created := f.sink.OfType(domain.EventTypeContractCreated)[0]
	assert.Equal(t, c.ContractID, created.ExternalID)
	assert.Equal(t, "sess_1", created.Metadata["sessionId"])
	assert.Equal(t, "f1", created.Metadata["createdBy"])
}

func TestGetContractNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.call(t, tools.GetContract, map[string]any{"contract_id": "ctr_missing"})
	require.Error(t, err)
	assert.Equal(t, "contract not found: ctr_missing", err.Error())
}

func TestMilestoneAndPaymentFlow(t *testing.T) {
	f := newFixture(t)
	id := f.activeContract(t)

	_, err := f.call(t, tools.SubmitMilestone, map[string]any{"contract_id": id, "milestone_id": "ms_1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deliverable")

	f.mustCall(t, tools.SubmitMilestone, map[string]any{"contract_id": id, "milestone_id": "ms_1", "deliverables": []string{"figma link"}})

	_, err = f.call(t, tools.ApproveMilestone, map[string]any{"contract_id": id, "milestone_id": "ms_1", "approver_id": "d1"})
	require.Error(t, err, "developer cannot approve own work")

	f.mustCall(t, tools.RejectMilestone, map[string]any{
		"contract_id": id, "milestone_id": "ms_1", "rejector_id": "f1",
		"reason": "missing mobile", "required_changes": []string{"mobile layouts"},
	})
	m, _ := f.contract(t, id).Milestone("ms_1")
	assert.Equal(t, domain.MilestoneStatusRejected, m.Status)
	assert.Equal(t, []string{"mobile layouts"}, m.RequiredChanges)

	f.mustCall(t, tools.SubmitMilestone, map[string]any{"contract_id": id, "milestone_id": "ms_1", "deliverables": []string{"figma v2"}})
	f.mustCall(t, tools.ApproveMilestone, map[string]any{"contract_id": id, "milestone_id": "ms_1", "approver_id": "f1"})

	// No funds yet.
	_, err = f.call(t, tools.ReleasePayment, map[string]any{"contract_id": id, "milestone_id": "ms_1", "recipient_id": "d1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient escrow")

	_, err = f.call(t, tools.FundEscrow, map[string]any{"contract_id": id, "funder_id": "d1", "amount_usd": 100, "payment_method": "stripe"})
	require.Error(t, err, "developer cannot fund")
	_, err = f.call(t, tools.FundEscrow, map[string]any{"contract_id": id, "funder_id": "f1", "amount_usd": 100, "payment_method": "cash"})
	require.Error(t, err)

	funded := f.mustCall(t, tools.FundEscrow, map[string]any{"contract_id": id, "funder_id": "f1", "amount_usd": 5000, "payment_method": "bsv"}).(map[string]any)
	assert.InDelta(t, 5000, funded["escrow_balance"], 0.001)

	_, err = f.call(t, tools.ReleasePayment, map[string]any{"contract_id": id, "milestone_id": "ms_1", "recipient_id": "f1"})
	require.Error(t, err, "only the developer is paid")

	paid := f.mustCall(t, tools.ReleasePayment, map[string]any{"contract_id": id, "milestone_id": "ms_1", "recipient_id": "d1"}).(map[string]any)
	assert.InDelta(t, 3000, paid["escrow_balance"], 0.001)
	assert.Equal(t, domain.ContractStatusActive, paid["contract_status"])

	_, err = f.call(t, tools.ReleasePayment, map[string]any{"contract_id": id, "milestone_id": "ms_1", "recipient_id": "d1"})
	require.Error(t, err, "milestone already paid")

	f.mustCall(t, tools.SubmitMilestone, map[string]any{"contract_id": id, "milestone_id": "ms_2", "deliverables": []string{"prod url"}})
	f.mustCall(t, tools.ApproveMilestone, map[string]any{"contract_id": id, "milestone_id": "ms_2", "approver_id": "f1"})
	paid = f.mustCall(t, tools.ReleasePayment, map[string]any{"contract_id": id, "milestone_id": "ms_2", "recipient_id": "d1"}).(map[string]any)
	assert.Equal(t, domain.ContractStatusCompleted, paid["contract_status"])

	balance := f.mustCall(t, tools.GetEscrowBalance, map[string]any{"contract_id": id}).(domain.EscrowBalance)
	assert.InDelta(t, 0, balance.BalanceUSD, 0.001)
	assert.InDelta(t, 5000, balance.TotalReleased, 0.001)

	status := f.mustCall(t, tools.GetMilestoneStatus, map[string]any{"contract_id": id})
	raw, err := json.Marshal(status)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"paid"`)

	assert.Len(t, f.sink.OfType(domain.EventTypePaymentReleased), 2)
	assert.Len(t, f.sink.OfType(domain.EventTypeMilestoneRejected), 1)
}

func TestRequestRefund(t *testing.T) {
	f := newFixture(t)
	id := f.activeContract(t)

	_, err := f.call(t, tools.RequestRefund, map[string]any{"contract_id": id, "requester_id": "f1", "reason": "stalled"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to refund")

	f.mustCall(t, tools.FundEscrow, map[string]any{"contract_id": id, "funder_id": "f1", "amount_usd": 1000, "payment_method": "stripe"})

	_, err = f.call(t, tools.RequestRefund, map[string]any{"contract_id": id, "requester_id": "f1", "reason": "stalled", "amount_usd": 1500})
	require.Error(t, err)
	_, err = f.call(t, tools.RequestRefund, map[string]any{"contract_id": id, "requester_id": "zz", "reason": "stalled"})
	require.Error(t, err)

	out := f.mustCall(t, tools.RequestRefund, map[string]any{"contract_id": id, "requester_id": "f1", "reason": "stalled"}).(map[string]any)
	assert.InDelta(t, 1000, out["amount_usd"], 0.001)
	assert.Equal(t, domain.EscrowStatusPendingReview, out["status"])

	// A pending refund does not move funds.
	balance, err := f.store.EscrowBalance(context.Background(), id)
	require.NoError(t, err)
	assert.InDelta(t, 1000, balance.BalanceUSD, 0.001)
}

func TestDisputeFlow(t *testing.T) {
	f := newFixture(t)
	id := f.activeContract(t)
	f.mustCall(t, tools.FundEscrow, map[string]any{"contract_id": id, "funder_id": "f1", "amount_usd": 2000, "payment_method": "stripe"})

	_, err := f.call(t, tools.RaiseDispute, map[string]any{"contract_id": id, "disputer_id": "f1", "dispute_type": "vibes", "description": "x"})
	require.Error(t, err)

	raised := f.mustCall(t, tools.RaiseDispute, map[string]any{
		"contract_id": id, "disputer_id": "f1", "dispute_type": "timeline", "description": "late",
	}).(map[string]any)
	disputeID := raised["dispute_id"].(string)
	assert.Equal(t, domain.ContractStatusDisputed, f.contract(t, id).Status)

	_, err = f.call(t, tools.RaiseDispute, map[string]any{"contract_id": id, "disputer_id": "d1", "dispute_type": "scope", "description": "again"})
	require.Error(t, err, "contract already disputed")

	_, err = f.call(t, tools.RespondToDispute, map[string]any{"dispute_id": disputeID, "responder_id": "f1", "response": "me too"})
	require.Error(t, err, "raiser cannot respond")

	f.mustCall(t, tools.RespondToDispute, map[string]any{"dispute_id": disputeID, "responder_id": "d1", "response": "blocked on api keys"})
	d, err := f.store.GetDispute(context.Background(), disputeID)
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeStatusResponseReceived, d.Status)
	require.Len(t, d.Responses, 1)

	resolved := f.mustCall(t, tools.ResolveDispute, map[string]any{
		"dispute_id":      disputeID,
		"resolution_type": "mutual_agreement",
		"outcome":         map[string]any{"refund_percentage": 25, "continue_contract": true},
	}).(map[string]any)
	assert.InDelta(t, 500, resolved["refund_usd"], 0.001)
	assert.Equal(t, domain.ContractStatusActive, resolved["contract_status"])

	balance, err := f.store.EscrowBalance(context.Background(), id)
	require.NoError(t, err)
	assert.InDelta(t, 1500, balance.BalanceUSD, 0.001)
	assert.InDelta(t, 500, balance.TotalRefunded, 0.001)

	_, err = f.call(t, tools.ResolveDispute, map[string]any{
		"dispute_id": disputeID, "resolution_type": "mediated", "outcome": map[string]any{"refund_percentage": 0},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already resolved")
}

func TestNegotiationFlow(t *testing.T) {
	f := newFixture(t)

	_, err := f.call(t, tools.AcceptTerms, map[string]any{"negotiation_id": "neg_1", "accepter_id": "d1"})
	require.Error(t, err, "nothing to accept")

	proposed := f.mustCall(t, tools.ProposeTerms, map[string]any{
		"negotiation_id": "neg_1",
		"proposer_id":    "f1",
		"terms":          map[string]any{"total_value_usd": 5000, "equity_percentage": 5, "timeline_days": 60},
	}).(map[string]any)
	assert.Equal(t, domain.ProposalStatusPending, proposed["status"])
	assert.Equal(t, "f1", proposed["proposed_by"])

	_, err = f.call(t, tools.AcceptTerms, map[string]any{"negotiation_id": "neg_1", "accepter_id": "f1"})
	require.Error(t, err, "cannot accept own proposal")

	_, err = f.call(t, tools.CounterTerms, map[string]any{"negotiation_id": "neg_1", "proposer_id": "f1", "counter_terms": map[string]any{"total_value_usd": 4000}})
	require.Error(t, err, "cannot counter own proposal")

	countered := f.mustCall(t, tools.CounterTerms, map[string]any{
		"negotiation_id": "neg_1",
		"proposer_id":    "d1",
		"counter_terms":  map[string]any{"total_value_usd": 6500, "equity_percentage": 5, "timeline_days": 75},
		"rationale":      "scope is larger",
	}).(map[string]any)
	assert.Equal(t, domain.ProposalStatusCounterProposed, countered["status"])

	accepted := f.mustCall(t, tools.AcceptTerms, map[string]any{"negotiation_id": "neg_1", "accepter_id": "f1"}).(map[string]any)
	assert.Equal(t, countered["counter_proposal_id"], accepted["proposal_id"])
	assert.Equal(t, "Contract will be generated", accepted["next_step"])
	assert.Equal(t, domain.Terms{TotalValueUSD: 6500, EquityPercentage: 5, TimelineDays: 75}, accepted["terms"])

	open, err := f.store.OpenProposal(context.Background(), "neg_1")
	require.NoError(t, err)
	assert.Nil(t, open)

	assert.Len(t, f.sink.OfType(domain.EventTypeTermsProposed), 1)
	assert.Len(t, f.sink.OfType(domain.EventTypeTermsCountered), 1)
	assert.Len(t, f.sink.OfType(domain.EventTypeTermsAccepted), 1)
}

func TestProposeTermsValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.call(t, tools.ProposeTerms, map[string]any{"negotiation_id": "n", "proposer_id": "f1"})
	require.Error(t, err)
	_, err = f.call(t, tools.ProposeTerms, map[string]any{"negotiation_id": "n", "proposer_id": "f1", "terms": map[string]any{"equity_percentage": 140}})
	require.Error(t, err)
}

func (f *fixture) placeOrder(t *testing.T, id, user string, side domain.OrderSide, price, amount int64) {
	t.Helper()
	require.NoError(t, f.store.CreateOrder(context.Background(), &domain.Order{
		OrderID:   id,
		TokenID:   "tok",
		UserID:    user,
		Side:      side,
		PriceSats: price,
		Amount:    amount,
		Status:    domain.OrderStatusOpen,
		CreatedAt: f.h.now(),
	}, 0))
}

func TestMatchExchangeOrders(t *testing.T) {
	f := newFixture(t)
	f.placeOrder(t, "s1", "alice", domain.OrderSideSell, 100, 5)
	f.placeOrder(t, "s2", "bob", domain.OrderSideSell, 90, 5)
	f.placeOrder(t, "b1", "carol", domain.OrderSideBuy, 110, 8)

	book := f.mustCall(t, tools.GetOrderBook, map[string]any{"token_id": "tok"}).(domain.OrderBook)
	assert.Equal(t, int64(110), book.BestBid)
	assert.Equal(t, int64(90), book.BestAsk)

	out := f.mustCall(t, tools.MatchExchangeOrders, map[string]any{"token_id": "tok"}).(map[string]any)
	assert.Equal(t, 2, out["trades_executed"])
	trades := out["trades"].([]domain.Trade)
	assert.Equal(t, "s2", trades[0].SellOrderID)
	assert.Equal(t, int64(90), trades[0].PriceSats)
	assert.Equal(t, int64(5), trades[0].Amount)
	assert.Equal(t, int64(3), trades[1].Amount)

	b1, err := f.store.GetOrder(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, b1.Status)
	s1, err := f.store.GetOrder(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPartial, s1.Status)

	listed := f.mustCall(t, tools.GetExchangeTrades, map[string]any{"token_id": "tok", "limit": 500}).(map[string]any)
	assert.Equal(t, 2, listed["count"])

	assert.Len(t, f.sink.OfType(domain.EventTypeExchangeMatchingStarted), 1)
	assert.Len(t, f.sink.OfType(domain.EventTypeExchangeMatchingCompleted), 1)
}

func TestExecuteTrade(t *testing.T) {
	f := newFixture(t)
	f.placeOrder(t, "s1", "alice", domain.OrderSideSell, 100, 5)
	f.placeOrder(t, "b1", "carol", domain.OrderSideBuy, 90, 5)
	f.placeOrder(t, "b2", "alice", domain.OrderSideBuy, 120, 5)
	f.placeOrder(t, "b3", "dave", domain.OrderSideBuy, 120, 5)

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"fractional amount", map[string]any{"buy_order_id": "b3", "sell_order_id": "s1", "amount": 1.5}, "whole number"},
		{"missing buy", map[string]any{"buy_order_id": "nope", "sell_order_id": "s1", "amount": 1}, "buy order not found"},
		{"missing sell", map[string]any{"buy_order_id": "b3", "sell_order_id": "nope", "amount": 1}, "sell order not found"},
		{"not crossing", map[string]any{"buy_order_id": "b1", "sell_order_id": "s1", "amount": 1}, "below sell price"},
		{"self trade", map[string]any{"buy_order_id": "b2", "sell_order_id": "s1", "amount": 1}, "own order"},
		{"too large", map[string]any{"buy_order_id": "b3", "sell_order_id": "s1", "amount": 6}, "exceeds remaining"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.call(t, tools.ExecuteTrade, tt.args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	out := f.mustCall(t, tools.ExecuteTrade, map[string]any{"buy_order_id": "b3", "sell_order_id": "s1", "amount": 2})
	trade := out.(domain.Trade)
	assert.Equal(t, int64(100), trade.PriceSats)
	assert.Equal(t, int64(200), trade.TotalSats)
	assert.Equal(t, "dave", trade.BuyerID)
	assert.Len(t, f.sink.OfType(domain.EventTypeExchangeTradeExecuted), 1)
}

func TestProcessMatchQueue(t *testing.T) {
	f := newFixture(t)

	empty := f.mustCall(t, tools.ProcessMatchQueue, map[string]any{"token_id": "tok"}).(map[string]any)
	assert.Equal(t, 0, empty["queue_items_processed"])
	assert.Equal(t, "No pending items in queue", empty["message"])

	f.placeOrder(t, "s1", "alice", domain.OrderSideSell, 100, 5)
	f.placeOrder(t, "b1", "carol", domain.OrderSideBuy, 100, 5)

	out := f.mustCall(t, tools.ProcessMatchQueue, map[string]any{"token_id": "tok"}).(map[string]any)
	assert.Equal(t, 2, out["queue_items_processed"])
	assert.Equal(t, 1, out["trades_executed"])

	pending, err := f.store.PendingQueueItems(context.Background(), "tok", 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
