package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/b0ase/kintsugi/internal/domain"
)

func validateTerms(field string, t *domain.Terms) error {
	if t == nil {
		return fmt.Errorf("%s is required", field)
	}
	if *t == (domain.Terms{}) {
		return fmt.Errorf("%s must set at least one term", field)
	}
	if t.TotalValueUSD < 0 || t.TimelineDays < 0 {
		return fmt.Errorf("%s: values must not be negative", field)
	}
	if t.EquityPercentage < 0 || t.EquityPercentage > 100 {
		return fmt.Errorf("%s: equity_percentage must be between 0 and 100", field)
	}
	return nil
}

func (h *Handlers) withNegotiation(ctx context.Context, negotiationID string, fn func(ctx context.Context) error) error {
	return h.ledger.WithLock(ctx, "negotiation:"+negotiationID, fn)
}

type proposeTermsArgs struct {
	NegotiationID string        `json:"negotiation_id"`
	ProposerID    string        `json:"proposer_id"`
	Terms         *domain.Terms `json:"terms"`
	CounterTerms  *domain.Terms `json:"counter_terms"`
	Rationale     string        `json:"rationale"`
}

func (h *Handlers) proposeTerms(ctx context.Context, raw json.RawMessage, tc domain.ToolContext) (any, error) {
	var args proposeTermsArgs
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	if err := required("negotiation_id", args.NegotiationID, "proposer_id", args.ProposerID); err != nil {
		return nil, err
	}
	if err := validateTerms("terms", args.Terms); err != nil {
		return nil, err
	}

	proposal := &domain.Proposal{
		ProposalID:    newID("prop"),
		NegotiationID: args.NegotiationID,
		SessionID:     tc.SessionID,
		ProposedBy:    args.ProposerID,
		Terms:         *args.Terms,
		Rationale:     args.Rationale,
		Status:        domain.ProposalStatusPending,
		CreatedAt:     h.now(),
	}
	err := h.withNegotiation(ctx, args.NegotiationID, func(ctx context.Context) error {
		return h.ledger.CreateProposal(ctx, proposal)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record proposal: %w", err)
	}

	h.capture(ctx, tc, domain.EventTypeTermsProposed, proposal.ProposalID, map[string]any{
		"negotiation_id": args.NegotiationID,
		"proposer_id":    args.ProposerID,
		"terms":          args.Terms,
	}, nil)
	return map[string]any{
		"negotiation_id": proposal.NegotiationID,
		"proposal_id":    proposal.ProposalID,
		"proposed_by":    proposal.ProposedBy,
		"terms":          proposal.Terms,
		"status":         proposal.Status,
		"proposed_at":    proposal.CreatedAt,
	}, nil
}

type acceptTermsArgs struct {
	NegotiationID string `json:"negotiation_id"`
	AccepterID    string `json:"accepter_id"`
}

func (h *Handlers) acceptTerms(ctx context.Context, raw json.RawMessage, tc domain.ToolContext) (any, error) {
	var args acceptTermsArgs
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	if err := required("negotiation_id", args.NegotiationID, "accepter_id", args.AccepterID); err != nil {
		return nil, err
	}

	var accepted *domain.Proposal
	err := h.withNegotiation(ctx, args.NegotiationID, func(ctx context.Context) error {
		open, err := h.ledger.OpenProposal(ctx, args.NegotiationID)
		if err != nil {
			return fmt.Errorf("failed to load proposal: %w", err)
		}
		if open == nil {
			return fmt.Errorf("no open proposal in negotiation %s", args.NegotiationID)
		}
		if open.ProposedBy == args.AccepterID {
			return fmt.Errorf("%s cannot accept their own proposal", args.AccepterID)
		}
		if err := h.ledger.AcceptProposal(ctx, open.ProposalID, args.AccepterID); err != nil {
			return fmt.Errorf("failed to accept proposal: %w", err)
		}
		accepted = open
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.capture(ctx, tc, domain.EventTypeTermsAccepted, newID("accept"), map[string]any{
		"negotiation_id": args.NegotiationID,
		"accepter_id":    args.AccepterID,
	}, nil)
	return map[string]any{
		"negotiation_id": args.NegotiationID,
		"proposal_id":    accepted.ProposalID,
		"terms":          accepted.Terms,
		"status":         domain.ProposalStatusAccepted,
		"accepted_by":    args.AccepterID,
		"accepted_at":    h.now(),
		"next_step":      "Contract will be generated",
	}, nil
}

func (h *Handlers) counterTerms(ctx context.Context, raw json.RawMessage, tc domain.ToolContext) (any, error) {
	var args proposeTermsArgs
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	if err := required("negotiation_id", args.NegotiationID, "proposer_id", args.ProposerID); err != nil {
		return nil, err
	}
	if err := validateTerms("counter_terms", args.CounterTerms); err != nil {
		return nil, err
	}

	counter := &domain.Proposal{
		ProposalID:    newID("counter"),
		NegotiationID: args.NegotiationID,
		SessionID:     tc.SessionID,
		ProposedBy:    args.ProposerID,
		Terms:         *args.CounterTerms,
		Rationale:     args.Rationale,
		Counter:       true,
		Status:        domain.ProposalStatusCounterProposed,
		CreatedAt:     h.now(),
	}
	err := h.withNegotiation(ctx, args.NegotiationID, func(ctx context.Context) error {
		open, err := h.ledger.OpenProposal(ctx, args.NegotiationID)
		if err != nil {
			return fmt.Errorf("failed to load proposal: %w", err)
		}
		if open == nil {
			return fmt.Errorf("no open proposal in negotiation %s to counter", args.NegotiationID)
		}
		if open.ProposedBy == args.ProposerID {
			return fmt.Errorf("%s cannot counter their own proposal", args.ProposerID)
		}
		return h.ledger.CreateProposal(ctx, counter)
	})
	if err != nil {
		return nil, err
	}

	h.capture(ctx, tc, domain.EventTypeTermsCountered, counter.ProposalID, map[string]any{
		"negotiation_id": args.NegotiationID,
		"proposer_id":    args.ProposerID,
		"counter_terms":  args.CounterTerms,
	}, nil)
	return map[string]any{
		"negotiation_id":      counter.NegotiationID,
		"counter_proposal_id": counter.ProposalID,
		"proposed_by":         counter.ProposedBy,
		"counter_terms":       counter.Terms,
		"status":              counter.Status,
		"proposed_at":         counter.CreatedAt,
	}, nil
}
