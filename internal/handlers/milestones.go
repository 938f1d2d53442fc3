package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/b0ase/kintsugi/internal/domain"
)

type submitMilestoneArgs struct {
	ContractID   string   `json:"contract_id"`
	MilestoneID  string   `json:"milestone_id"`
	Deliverables []string `json:"deliverables"`
	Notes        string   `json:"notes"`
}

func (h *Handlers) submitMilestone(ctx context.Context, raw json.RawMessage, tc domain.ToolContext) (any, error) {
	var args submitMilestoneArgs
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	if err := required("contract_id", args.ContractID, "milestone_id", args.MilestoneID); err != nil {
		return nil, err
	}
	if len(args.Deliverables) == 0 {
		return nil, fmt.Errorf("at least one deliverable is required")
	}

	var result map[string]any
	err := h.withContract(ctx, args.ContractID, func(ctx context.Context, c *domain.Contract) error {
		if c.Status != domain.ContractStatusActive {
			return fmt.Errorf("contract is %s, milestones can only be submitted on active contracts", c.Status)
		}
		m, ok := c.Milestone(args.MilestoneID)
		if !ok {
			return fmt.Errorf("milestone not found: %s", args.MilestoneID)
		}
		if m.Status != domain.MilestoneStatusPending && m.Status != domain.MilestoneStatusRejected {
			return fmt.Errorf("milestone is %s and cannot be submitted", m.Status)
		}

		now := h.now()
		m.Status = domain.MilestoneStatusPendingReview
		m.Deliverables = args.Deliverables
		m.Notes = args.Notes
		m.SubmittedAt = &now
		c.UpdatedAt = now
		if err := h.ledger.UpdateContract(ctx, c); err != nil {
			return fmt.Errorf("failed to submit milestone: %w", err)
		}
		result = map[string]any{
			"contract_id":  c.ContractID,
			"milestone_id": m.MilestoneID,
			"status":       m.Status,
			"submitted_at": now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.capture(ctx, tc, domain.EventTypeMilestoneSubmitted, newID("sub"), map[string]any{
		"contract_id":  args.ContractID,
		"milestone_id": args.MilestoneID,
		"deliverables": args.Deliverables,
	}, nil)
	return result, nil
}

type reviewMilestoneArgs struct {
	ContractID      string   `json:"contract_id"`
	MilestoneID     string   `json:"milestone_id"`
	ApproverID      string   `json:"approver_id"`
	Feedback        string   `json:"feedback"`
	RejectorID      string   `json:"rejector_id"`
	Reason          string   `json:"reason"`
	RequiredChanges []string `json:"required_changes"`
}

// review moves a pending_review milestone to the given status. Only the
// founder or investor of the contract may review.
func (h *Handlers) review(ctx context.Context, args reviewMilestoneArgs, reviewer string, to domain.MilestoneStatus) (*domain.Milestone, error) {
	var reviewed domain.Milestone
	err := h.withContract(ctx, args.ContractID, func(ctx context.Context, c *domain.Contract) error {
		if reviewer != c.FounderID && (c.InvestorID == "" || reviewer != c.InvestorID) {
			return fmt.Errorf("%s is not the founder or investor of this contract", reviewer)
		}
		m, ok := c.Milestone(args.MilestoneID)
		if !ok {
			return fmt.Errorf("milestone not found: %s", args.MilestoneID)
		}
		if m.Status != domain.MilestoneStatusPendingReview {
			return fmt.Errorf("milestone is %s, only submitted milestones can be reviewed", m.Status)
		}

		now := h.now()
		m.Status = to
		m.ReviewedBy = reviewer
		m.ReviewedAt = &now
		if to == domain.MilestoneStatusApproved {
			m.Feedback = args.Feedback
			m.RequiredChanges = nil
		} else {
			m.Feedback = args.Reason
			m.RequiredChanges = args.RequiredChanges
		}
		c.UpdatedAt = now
		if err := h.ledger.UpdateContract(ctx, c); err != nil {
			return fmt.Errorf("failed to review milestone: %w", err)
		}
		reviewed = *m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &reviewed, nil
}

func (h *Handlers) approveMilestone(ctx context.Context, raw json.RawMessage, tc domain.ToolContext) (any, error) {
	var args reviewMilestoneArgs
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	if err := required("contract_id", args.ContractID, "milestone_id", args.MilestoneID, "approver_id", args.ApproverID); err != nil {
		return nil, err
	}

	m, err := h.review(ctx, args, args.ApproverID, domain.MilestoneStatusApproved)
	if err != nil {
		return nil, err
	}

	h.capture(ctx, tc, domain.EventTypeMilestoneApproved, newID("appr"), map[string]any{
		"contract_id":  args.ContractID,
		"milestone_id": args.MilestoneID,
		"approver_id":  args.ApproverID,
	}, nil)
	return map[string]any{
		"contract_id":      args.ContractID,
		"milestone_id":     m.MilestoneID,
		"status":           m.Status,
		"approved_by":      args.ApproverID,
		"approved_at":      m.ReviewedAt,
		"value_usd":        m.ValueUSD,
		"payment_released": false,
	}, nil
}

func (h *Handlers) rejectMilestone(ctx context.Context, raw json.RawMessage, tc domain.ToolContext) (any, error) {
	var args reviewMilestoneArgs
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	if err := required("contract_id", args.ContractID, "milestone_id", args.MilestoneID,
		"rejector_id", args.RejectorID, "reason", args.Reason); err != nil {
		return nil, err
	}

	m, err := h.review(ctx, args, args.RejectorID, domain.MilestoneStatusRejected)
	if err != nil {
		return nil, err
	}

	h.capture(ctx, tc, domain.EventTypeMilestoneRejected, newID("rej"), map[string]any{
		"contract_id":  args.ContractID,
		"milestone_id": args.MilestoneID,
		"rejector_id":  args.RejectorID,
		"reason":       args.Reason,
	}, nil)
	return map[string]any{
		"contract_id":      args.ContractID,
		"milestone_id":     m.MilestoneID,
		"status":           m.Status,
		"rejected_by":      args.RejectorID,
		"reason":           args.Reason,
		"required_changes": m.RequiredChanges,
		"rejected_at":      m.ReviewedAt,
	}, nil
}

func (h *Handlers) getMilestoneStatus(ctx context.Context, raw json.RawMessage, _ domain.ToolContext) (any, error) {
	var args contractIDArgs
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	if err := required("contract_id", args.ContractID); err != nil {
		return nil, err
	}
	c, err := h.loadContract(ctx, args.ContractID)
	if err != nil {
		return nil, err
	}

	counts := map[domain.MilestoneStatus]int{}
	var paidUSD, remainingUSD float64
	for _, m := range c.Milestones {
		counts[m.Status]++
		if m.Status == domain.MilestoneStatusPaid {
			paidUSD += m.ValueUSD
		} else {
			remainingUSD += m.ValueUSD
		}
	}
	return map[string]any{
		"contract_id":     c.ContractID,
		"contract_status": c.Status,
		"milestones":      c.Milestones,
		"summary": map[string]any{
			"total":         len(c.Milestones),
			"by_status":     counts,
			"paid_usd":      paidUSD,
			"remaining_usd": remainingUSD,
		},
	}, nil
}
