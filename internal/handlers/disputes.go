package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/b0ase/kintsugi/internal/domain"
)

var (
	disputeTypes    = []string{"quality", "timeline", "scope", "payment", "communication", "other"}
	resolutionTypes = []string{"mutual_agreement", "mediated", "timeout_default"}
)

type raiseDisputeArgs struct {
	ContractID  string   `json:"contract_id"`
	DisputerID  string   `json:"disputer_id"`
	DisputeType string   `json:"dispute_type"`
	Description string   `json:"description"`
	Evidence    []string `json:"evidence"`
}

func (h *Handlers) raiseDispute(ctx context.Context, raw json.RawMessage, tc domain.ToolContext) (any, error) {
	var args raiseDisputeArgs
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	if err := required("contract_id", args.ContractID, "disputer_id", args.DisputerID,
		"dispute_type", args.DisputeType, "description", args.Description); err != nil {
		return nil, err
	}
	if !oneOf(args.DisputeType, disputeTypes...) {
		return nil, fmt.Errorf("unsupported dispute_type: %s", args.DisputeType)
	}

	var dispute *domain.Dispute
	err := h.withContract(ctx, args.ContractID, func(ctx context.Context, c *domain.Contract) error {
		switch c.Status {
		case domain.ContractStatusActive, domain.ContractStatusPendingSignatures:
		default:
			return fmt.Errorf("contract is %s, disputes can only be raised on active or pending contracts", c.Status)
		}
		if !isParty(c, args.DisputerID) {
			return fmt.Errorf("%s is not a party to this contract", args.DisputerID)
		}

		now := h.now()
		dispute = &domain.Dispute{
			DisputeID:   newID("dsp"),
			ContractID:  c.ContractID,
			RaisedBy:    args.DisputerID,
			DisputeType: args.DisputeType,
			Description: args.Description,
			Evidence:    args.Evidence,
			Status:      domain.DisputeStatusOpen,
			CreatedAt:   now,
		}
		c.Status = domain.ContractStatusDisputed
		c.UpdatedAt = now
		if err := h.ledger.CreateDispute(ctx, dispute, c); err != nil {
			return fmt.Errorf("failed to raise dispute: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.capture(ctx, tc, domain.EventTypeDisputeRaised, dispute.DisputeID, map[string]any{
		"contract_id":  args.ContractID,
		"disputer_id":  args.DisputerID,
		"dispute_type": args.DisputeType,
		"description":  args.Description,
	}, nil)
	return map[string]any{
		"dispute_id":      dispute.DisputeID,
		"contract_id":     dispute.ContractID,
		"status":          dispute.Status,
		"raised_by":       dispute.RaisedBy,
		"dispute_type":    dispute.DisputeType,
		"contract_status": domain.ContractStatusDisputed,
		"raised_at":       dispute.CreatedAt,
	}, nil
}

// withDispute loads a dispute and runs fn holding its contract's lock.
func (h *Handlers) withDispute(ctx context.Context, disputeID string, fn func(ctx context.Context, d *domain.Dispute, c *domain.Contract) error) error {
	d, err := h.ledger.GetDispute(ctx, disputeID)
	if err != nil {
		return fmt.Errorf("failed to load dispute: %w", err)
	}
	if d == nil {
		return fmt.Errorf("dispute not found: %s", disputeID)
	}
	return h.withContract(ctx, d.ContractID, func(ctx context.Context, c *domain.Contract) error {
		// Reload under the lock.
		d, err := h.ledger.GetDispute(ctx, disputeID)
		if err != nil {
			return fmt.Errorf("failed to load dispute: %w", err)
		}
		if d.Status == domain.DisputeStatusResolved {
			return fmt.Errorf("dispute %s is already resolved", disputeID)
		}
		return fn(ctx, d, c)
	})
}

type respondToDisputeArgs struct {
	DisputeID          string   `json:"dispute_id"`
	ResponderID        string   `json:"responder_id"`
	Response           string   `json:"response"`
	CounterEvidence    []string `json:"counter_evidence"`
	ProposedResolution string   `json:"proposed_resolution"`
}

func (h *Handlers) respondToDispute(ctx context.Context, raw json.RawMessage, tc domain.ToolContext) (any, error) {
	var args respondToDisputeArgs
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	if err := required("dispute_id", args.DisputeID, "responder_id", args.ResponderID, "response", args.Response); err != nil {
		return nil, err
	}

	var respondedAt any
	err := h.withDispute(ctx, args.DisputeID, func(ctx context.Context, d *domain.Dispute, c *domain.Contract) error {
		if !isParty(c, args.ResponderID) {
			return fmt.Errorf("%s is not a party to this contract", args.ResponderID)
		}
		if args.ResponderID == d.RaisedBy {
			return fmt.Errorf("the disputing party cannot respond to its own dispute")
		}
		now := h.now()
		d.Responses = append(d.Responses, domain.DisputeResponse{
			ResponderID:        args.ResponderID,
			Response:           args.Response,
			CounterEvidence:    args.CounterEvidence,
			ProposedResolution: args.ProposedResolution,
			RespondedAt:        now,
		})
		d.Status = domain.DisputeStatusResponseReceived
		respondedAt = now
		return h.ledger.UpdateDispute(ctx, d)
	})
	if err != nil {
		return nil, err
	}

	h.capture(ctx, tc, domain.EventTypeDisputeResponse, newID("resp"), map[string]any{
		"dispute_id":   args.DisputeID,
		"responder_id": args.ResponderID,
		"response":     args.Response,
	}, nil)
	return map[string]any{
		"dispute_id":   args.DisputeID,
		"responder_id": args.ResponderID,
		"status":       domain.DisputeStatusResponseReceived,
		"responded_at": respondedAt,
	}, nil
}

type resolveDisputeArgs struct {
	DisputeID      string                 `json:"dispute_id"`
	ResolutionType string                 `json:"resolution_type"`
	Outcome        *domain.DisputeOutcome `json:"outcome"`
}

func (h *Handlers) resolveDispute(ctx context.Context, raw json.RawMessage, tc domain.ToolContext) (any, error) {
	var args resolveDisputeArgs
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	if err := required("dispute_id", args.DisputeID, "resolution_type", args.ResolutionType); err != nil {
		return nil, err
	}
	if !oneOf(args.ResolutionType, resolutionTypes...) {
		return nil, fmt.Errorf("unsupported resolution_type: %s", args.ResolutionType)
	}
	if args.Outcome == nil {
		return nil, fmt.Errorf("outcome is required")
	}
	if args.Outcome.RefundPercentage < 0 || args.Outcome.RefundPercentage > 100 {
		return nil, fmt.Errorf("refund_percentage must be between 0 and 100")
	}

	var result map[string]any
	err := h.withDispute(ctx, args.DisputeID, func(ctx context.Context, d *domain.Dispute, c *domain.Contract) error {
		balance, err := h.ledger.EscrowBalance(ctx, c.ContractID)
		if err != nil {
			return fmt.Errorf("failed to read escrow balance: %w", err)
		}

		now := h.now()
		var refund *domain.EscrowEntry
		refundUSD := math.Round(balance.BalanceUSD*args.Outcome.RefundPercentage) / 100
		if refundUSD > 0 {
			refund = &domain.EscrowEntry{
				EntryID:    newID("refund"),
				ContractID: c.ContractID,
				Kind:       domain.EscrowKindRefund,
				AmountUSD:  refundUSD,
				UserID:     c.FounderID,
				Status:     domain.EscrowStatusCompleted,
				Reason:     "dispute " + d.DisputeID + " resolved",
				CreatedAt:  now,
			}
		}

		d.Status = domain.DisputeStatusResolved
		d.ResolutionType = args.ResolutionType
		d.Outcome = args.Outcome
		d.ResolvedAt = &now
		if args.Outcome.ContinueContract {
			c.Status = domain.ContractStatusActive
		} else {
			c.Status = domain.ContractStatusCancelled
		}
		c.UpdatedAt = now
		if err := h.ledger.ResolveDispute(ctx, d, c, refund); err != nil {
			return fmt.Errorf("failed to resolve dispute: %w", err)
		}

		result = map[string]any{
			"dispute_id":      d.DisputeID,
			"status":          d.Status,
			"resolution_type": d.ResolutionType,
			"outcome":         d.Outcome,
			"refund_usd":      refundUSD,
			"contract_status": c.Status,
			"resolved_at":     now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.capture(ctx, tc, domain.EventTypeDisputeResolved, newID("resolve"), map[string]any{
		"dispute_id":      args.DisputeID,
		"resolution_type": args.ResolutionType,
		"outcome":         args.Outcome,
	}, nil)
	return result, nil
}
