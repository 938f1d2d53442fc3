package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/b0ase/kintsugi/internal/domain"
)

var paymentMethods = []string{"stripe", "paypal", "bsv", "eth", "sol"}

type fundEscrowArgs struct {
	ContractID    string  `json:"contract_id"`
	FunderID      string  `json:"funder_id"`
	AmountUSD     float64 `json:"amount_usd"`
	PaymentMethod string  `json:"payment_method"`
}

func (h *Handlers) fundEscrow(ctx context.Context, raw json.RawMessage, tc domain.ToolContext) (any, error) {
	var args fundEscrowArgs
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	if err := required("contract_id", args.ContractID, "funder_id", args.FunderID, "payment_method", args.PaymentMethod); err != nil {
		return nil, err
	}
	if args.AmountUSD <= 0 {
		return nil, fmt.Errorf("amount_usd must be positive")
	}
	if !oneOf(args.PaymentMethod, paymentMethods...) {
		return nil, fmt.Errorf("unsupported payment_method: %s", args.PaymentMethod)
	}

	var balance domain.EscrowBalance
	entry := &domain.EscrowEntry{
		EntryID:       newID("fund"),
		ContractID:    args.ContractID,
		Kind:          domain.EscrowKindFund,
		AmountUSD:     args.AmountUSD,
		UserID:        args.FunderID,
		PaymentMethod: args.PaymentMethod,
		Status:        domain.EscrowStatusCompleted,
	}
	err := h.withContract(ctx, args.ContractID, func(ctx context.Context, c *domain.Contract) error {
		if c.Status == domain.ContractStatusCompleted || c.Status == domain.ContractStatusCancelled {
			return fmt.Errorf("contract is %s and cannot be funded", c.Status)
		}
		if args.FunderID != c.FounderID && (c.InvestorID == "" || args.FunderID != c.InvestorID) {
			return fmt.Errorf("%s is not the founder or investor of this contract", args.FunderID)
		}
		entry.CreatedAt = h.now()
		if err := h.ledger.CreateEscrowEntry(ctx, entry); err != nil {
			return fmt.Errorf("failed to fund escrow: %w", err)
		}
		var err error
		balance, err = h.ledger.EscrowBalance(ctx, c.ContractID)
		return err
	})
	if err != nil {
		return nil, err
	}

	h.capture(ctx, tc, domain.EventTypeEscrowFunded, entry.EntryID, map[string]any{
		"contract_id":    args.ContractID,
		"funder_id":      args.FunderID,
		"amount_usd":     args.AmountUSD,
		"payment_method": args.PaymentMethod,
	}, nil)
	return map[string]any{
		"contract_id":    args.ContractID,
		"funded_by":      args.FunderID,
		"amount_usd":     args.AmountUSD,
		"payment_method": args.PaymentMethod,
		"escrow_balance": balance.BalanceUSD,
		"funded_at":      entry.CreatedAt,
	}, nil
}

type releasePaymentArgs struct {
	ContractID  string `json:"contract_id"`
	MilestoneID string `json:"milestone_id"`
	RecipientID string `json:"recipient_id"`
}

func (h *Handlers) releasePayment(ctx context.Context, raw json.RawMessage, tc domain.ToolContext) (any, error) {
	var args releasePaymentArgs
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	if err := required("contract_id", args.ContractID, "milestone_id", args.MilestoneID, "recipient_id", args.RecipientID); err != nil {
		return nil, err
	}

	var result map[string]any
	var entryID string
	err := h.withContract(ctx, args.ContractID, func(ctx context.Context, c *domain.Contract) error {
		if c.Status != domain.ContractStatusActive {
			return fmt.Errorf("contract is %s, payments can only be released on active contracts", c.Status)
		}
		if args.RecipientID != c.DeveloperID {
			return fmt.Errorf("%s is not the developer of this contract", args.RecipientID)
		}
		m, ok := c.Milestone(args.MilestoneID)
		if !ok {
			return fmt.Errorf("milestone not found: %s", args.MilestoneID)
		}
		if m.Status != domain.MilestoneStatusApproved {
			return fmt.Errorf("milestone is %s, only approved milestones can be paid", m.Status)
		}
		balance, err := h.ledger.EscrowBalance(ctx, c.ContractID)
		if err != nil {
			return fmt.Errorf("failed to read escrow balance: %w", err)
		}
		if balance.BalanceUSD+centEpsilon < m.ValueUSD {
			return fmt.Errorf("insufficient escrow: balance %.2f, milestone value %.2f", balance.BalanceUSD, m.ValueUSD)
		}

		now := h.now()
		m.Status = domain.MilestoneStatusPaid
		if allPaid(c) {
			c.Status = domain.ContractStatusCompleted
		}
		c.UpdatedAt = now
		entry := &domain.EscrowEntry{
			EntryID:     newID("pay"),
			ContractID:  c.ContractID,
			Kind:        domain.EscrowKindRelease,
			AmountUSD:   m.ValueUSD,
			UserID:      args.RecipientID,
			MilestoneID: m.MilestoneID,
			Status:      domain.EscrowStatusCompleted,
			CreatedAt:   now,
		}
		if err := h.ledger.ReleaseMilestone(ctx, c, entry); err != nil {
			return fmt.Errorf("failed to release payment: %w", err)
		}
		entryID = entry.EntryID
		result = map[string]any{
			"contract_id":     c.ContractID,
			"milestone_id":    m.MilestoneID,
			"recipient_id":    args.RecipientID,
			"amount_usd":      m.ValueUSD,
			"status":          "released",
			"escrow_balance":  balance.BalanceUSD - m.ValueUSD,
			"contract_status": c.Status,
			"released_at":     now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.capture(ctx, tc, domain.EventTypePaymentReleased, entryID, map[string]any{
		"contract_id":  args.ContractID,
		"milestone_id": args.MilestoneID,
		"recipient_id": args.RecipientID,
	}, nil)
	return result, nil
}

func allPaid(c *domain.Contract) bool {
	if len(c.Milestones) == 0 {
		return false
	}
	for _, m := range c.Milestones {
		if m.Status != domain.MilestoneStatusPaid {
			return false
		}
	}
	return true
}

func (h *Handlers) getEscrowBalance(ctx context.Context, raw json.RawMessage, _ domain.ToolContext) (any, error) {
	var args contractIDArgs
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	if err := required("contract_id", args.ContractID); err != nil {
		return nil, err
	}
	if _, err := h.loadContract(ctx, args.ContractID); err != nil {
		return nil, err
	}
	balance, err := h.ledger.EscrowBalance(ctx, args.ContractID)
	if err != nil {
		return nil, fmt.Errorf("failed to read escrow balance: %w", err)
	}
	return balance, nil
}

type requestRefundArgs struct {
	ContractID  string   `json:"contract_id"`
	RequesterID string   `json:"requester_id"`
	Reason      string   `json:"reason"`
	AmountUSD   *float64 `json:"amount_usd"`
}

func (h *Handlers) requestRefund(ctx context.Context, raw json.RawMessage, tc domain.ToolContext) (any, error) {
	var args requestRefundArgs
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	if err := required("contract_id", args.ContractID, "requester_id", args.RequesterID, "reason", args.Reason); err != nil {
		return nil, err
	}

	var entry *domain.EscrowEntry
	err := h.withContract(ctx, args.ContractID, func(ctx context.Context, c *domain.Contract) error {
		if !isParty(c, args.RequesterID) {
			return fmt.Errorf("%s is not a party to this contract", args.RequesterID)
		}
		balance, err := h.ledger.EscrowBalance(ctx, c.ContractID)
		if err != nil {
			return fmt.Errorf("failed to read escrow balance: %w", err)
		}
		amount := balance.BalanceUSD
		if args.AmountUSD != nil {
			amount = *args.AmountUSD
		}
		if amount <= 0 {
			return fmt.Errorf("nothing to refund: escrow balance is %.2f", balance.BalanceUSD)
		}
		if amount > balance.BalanceUSD+centEpsilon {
			return fmt.Errorf("refund %.2f exceeds escrow balance %.2f", amount, balance.BalanceUSD)
		}
		entry = &domain.EscrowEntry{
			EntryID:    newID("refund"),
			ContractID: c.ContractID,
			Kind:       domain.EscrowKindRefund,
			AmountUSD:  amount,
			UserID:     args.RequesterID,
			Status:     domain.EscrowStatusPendingReview,
			Reason:     args.Reason,
			CreatedAt:  h.now(),
		}
		return h.ledger.CreateEscrowEntry(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	h.capture(ctx, tc, domain.EventTypeRefundRequested, entry.EntryID, map[string]any{
		"contract_id":  args.ContractID,
		"requester_id": args.RequesterID,
		"reason":       args.Reason,
		"amount_usd":   entry.AmountUSD,
	}, nil)
	return map[string]any{
		"contract_id":       args.ContractID,
		"refund_request_id": entry.EntryID,
		"requester_id":      args.RequesterID,
		"reason":            args.Reason,
		"amount_usd":        entry.AmountUSD,
		"status":            entry.Status,
		"requested_at":      entry.CreatedAt,
	}, nil
}
