// Package handlers implements the tool handlers over the contract ledger.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/b0ase/kintsugi/internal/domain"
	"github.com/b0ase/kintsugi/internal/events"
	"github.com/b0ase/kintsugi/internal/tools"
)

// Ledger is the persistence the handlers operate on.
type Ledger interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error

	CreateContract(ctx context.Context, c *domain.Contract) error
	GetContract(ctx context.Context, contractID string) (*domain.Contract, error)
	UpdateContract(ctx context.Context, c *domain.Contract) error
	ListContracts(ctx context.Context, filter domain.ContractFilter) ([]domain.Contract, error)

	CreateEscrowEntry(ctx context.Context, entry *domain.EscrowEntry) error
	EscrowBalance(ctx context.Context, contractID string) (domain.EscrowBalance, error)
	ReleaseMilestone(ctx context.Context, c *domain.Contract, entry *domain.EscrowEntry) error

	CreateDispute(ctx context.Context, d *domain.Dispute, c *domain.Contract) error
	GetDispute(ctx context.Context, disputeID string) (*domain.Dispute, error)
	UpdateDispute(ctx context.Context, d *domain.Dispute) error
	ResolveDispute(ctx context.Context, d *domain.Dispute, c *domain.Contract, refund *domain.EscrowEntry) error

	CreateProposal(ctx context.Context, p *domain.Proposal) error
	OpenProposal(ctx context.Context, negotiationID string) (*domain.Proposal, error)
	AcceptProposal(ctx context.Context, proposalID, accepterID string) error

	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	ListOpenOrders(ctx context.Context, tokenID string) ([]domain.Order, error)
	RecordTrade(ctx context.Context, trade *domain.Trade, buy, sell *domain.Order) error
	ListTrades(ctx context.Context, tokenID string, limit int) ([]domain.Trade, error)
	PendingQueueItems(ctx context.Context, tokenID string, limit int) ([]domain.MatchQueueItem, error)
	MarkQueueItems(ctx context.Context, itemIDs []string, status domain.QueueStatus, attemptAt time.Time) error
}

// Handlers binds the tool handlers to a ledger and an audit sink.
type Handlers struct {
	ledger Ledger
	sink   events.Sink
	logger *slog.Logger
	now    func() time.Time
}

// New creates the handler set.
func New(ledger Ledger, sink events.Sink, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		ledger: ledger,
		sink:   sink,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Register adds every handler to the registry.
func (h *Handlers) Register(r *tools.Registry) error {
	table := map[string]tools.HandlerFunc{
		tools.CreateContract: h.createContract,
		tools.GetContract:    h.getContract,
		tools.SignContract:   h.signContract,
		tools.ListContracts:  h.listContracts,

		tools.SubmitMilestone:    h.submitMilestone,
		tools.ApproveMilestone:   h.approveMilestone,
		tools.RejectMilestone:    h.rejectMilestone,
		tools.GetMilestoneStatus: h.getMilestoneStatus,

		tools.FundEscrow:       h.fundEscrow,
		tools.ReleasePayment:   h.releasePayment,
		tools.GetEscrowBalance: h.getEscrowBalance,
		tools.RequestRefund:    h.requestRefund,

		tools.RaiseDispute:     h.raiseDispute,
		tools.RespondToDispute: h.respondToDispute,
		tools.ResolveDispute:   h.resolveDispute,

		tools.ProposeTerms: h.proposeTerms,
		tools.AcceptTerms:  h.acceptTerms,
		tools.CounterTerms: h.counterTerms,

		tools.MatchExchangeOrders: h.matchExchangeOrders,
		tools.ExecuteTrade:        h.executeTrade,
		tools.GetOrderBook:        h.getOrderBook,
		tools.GetExchangeTrades:   h.getExchangeTrades,
		tools.ProcessMatchQueue:   h.processMatchQueue,
	}
	for name, fn := range table {
		if err := r.Register(name, fn); err != nil {
			return err
		}
	}
	return nil
}

// decode unmarshals tool arguments into dst.
func decode(args json.RawMessage, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(args))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// required returns an error naming the first empty field.
func required(fields ...string) error {
	for i := 0; i+1 < len(fields); i += 2 {
		if strings.TrimSpace(fields[i+1]) == "" {
			return fmt.Errorf("%s is required", fields[i])
		}
	}
	return nil
}

func newID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

func oneOf(value string, allowed ...string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

// capture records a ledger audit event. Failures are logged and dropped.
func (h *Handlers) capture(ctx context.Context, tc domain.ToolContext, eventType domain.EventType, externalID string, payload any, metadata map[string]any) {
	if h.sink == nil {
		return
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["sessionId"] = tc.SessionID
	err := h.sink.Capture(ctx, events.Event{
		EventType:  eventType,
		ExternalID: externalID,
		SessionID:  tc.SessionID,
		Payload:    payload,
		Metadata:   metadata,
	})
	if err != nil {
		h.logger.Warn("failed to capture ledger event", "event_type", eventType, "session_id", tc.SessionID, "error", err)
	}
}

// loadContract fetches a contract or fails with a not-found error.
func (h *Handlers) loadContract(ctx context.Context, contractID string) (*domain.Contract, error) {
	c, err := h.ledger.GetContract(ctx, contractID)
	if err != nil {
		return nil, fmt.Errorf("failed to load contract: %w", err)
	}
	if c == nil {
		return nil, fmt.Errorf("contract not found: %s", contractID)
	}
	return c, nil
}

// withContract runs fn on a contract while holding its ledger lock.
func (h *Handlers) withContract(ctx context.Context, contractID string, fn func(ctx context.Context, c *domain.Contract) error) error {
	if contractID == "" {
		return fmt.Errorf("contract_id is required")
	}
	return h.ledger.WithLock(ctx, "contract:"+contractID, func(ctx context.Context) error {
		c, err := h.loadContract(ctx, contractID)
		if err != nil {
			return err
		}
		return fn(ctx, c)
	})
}

func isParty(c *domain.Contract, userID string) bool {
	for _, id := range c.Parties() {
		if id == userID {
			return true
		}
	}
	return false
}
