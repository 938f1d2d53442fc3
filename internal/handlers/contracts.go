package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/b0ase/kintsugi/internal/domain"
)

type milestoneInput struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	ValueUSD    float64 `json:"value_usd"`
	DueDays     int     `json:"due_days"`
}

type createContractArgs struct {
	Title            string           `json:"title"`
	Description      string           `json:"description"`
	FounderID        string           `json:"founder_id"`
	DeveloperID      string           `json:"developer_id"`
	InvestorID       string           `json:"investor_id"`
	TotalValueUSD    float64          `json:"total_value_usd"`
	EquityPercentage float64          `json:"equity_percentage"`
	Milestones       []milestoneInput `json:"milestones"`
}

// tolerance for summing USD amounts given as floats.
const centEpsilon = 0.005

func (h *Handlers) createContract(ctx context.Context, raw json.RawMessage, tc domain.ToolContext) (any, error) {
	var args createContractArgs
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	if err := required("title", args.Title, "description", args.Description, "founder_id", args.FounderID); err != nil {
		return nil, err
	}
	if args.TotalValueUSD <= 0 {
		return nil, fmt.Errorf("total_value_usd must be positive")
	}
	if args.EquityPercentage < 0 || args.EquityPercentage > 100 {
		return nil, fmt.Errorf("equity_percentage must be between 0 and 100")
	}

	milestones := make([]domain.Milestone, 0, len(args.Milestones))
	var sum float64
	for i, m := range args.Milestones {
		if m.Title == "" {
			return nil, fmt.Errorf("milestone %d: title is required", i+1)
		}
		if m.ValueUSD < 0 || m.DueDays < 0 {
			return nil, fmt.Errorf("milestone %d: value_usd and due_days must not be negative", i+1)
		}
		sum += m.ValueUSD
		milestones = append(milestones, domain.Milestone{
			MilestoneID: fmt.Sprintf("ms_%d", i+1),
			Title:       m.Title,
			Description: m.Description,
			ValueUSD:    m.ValueUSD,
			DueDays:     m.DueDays,
			Status:      domain.MilestoneStatusPending,
		})
	}
	if sum > args.TotalValueUSD+centEpsilon {
		return nil, fmt.Errorf("milestone values (%.2f) exceed total_value_usd (%.2f)", sum, args.TotalValueUSD)
	}

	now := h.now()
	contract := &domain.Contract{
		ContractID:       newID("ctr"),
		SessionID:        tc.SessionID,
		Title:            args.Title,
		Description:      args.Description,
		FounderID:        args.FounderID,
		DeveloperID:      args.DeveloperID,
		InvestorID:       args.InvestorID,
		TotalValueUSD:    args.TotalValueUSD,
		EquityPercentage: args.EquityPercentage,
		Status:           domain.ContractStatusDraft,
		Milestones:       milestones,
		Signatures:       []domain.Signature{},
		CreatedBy:        tc.UserID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := h.ledger.CreateContract(ctx, contract); err != nil {
		return nil, fmt.Errorf("failed to create contract: %w", err)
	}

	h.capture(ctx, tc, domain.EventTypeContractCreated, contract.ContractID, args,
		map[string]any{"createdBy": tc.UserID})
	return contract, nil
}

type contractIDArgs struct {
	ContractID string `json:"contract_id"`
}

func (h *Handlers) getContract(ctx context.Context, raw json.RawMessage, _ domain.ToolContext) (any, error) {
	var args contractIDArgs
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	if err := required("contract_id", args.ContractID); err != nil {
		return nil, err
	}
	return h.loadContract(ctx, args.ContractID)
}

type signContractArgs struct {
	ContractID    string `json:"contract_id"`
	UserID        string `json:"user_id"`
	Role          string `json:"role"`
	SignatureData string `json:"signature_data"`
}

func (h *Handlers) signContract(ctx context.Context, raw json.RawMessage, tc domain.ToolContext) (any, error) {
	var args signContractArgs
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	if err := required("contract_id", args.ContractID, "user_id", args.UserID, "role", args.Role); err != nil {
		return nil, err
	}
	role := domain.Role(args.Role)
	if !oneOf(args.Role, string(domain.RoleFounder), string(domain.RoleDeveloper), string(domain.RoleInvestor)) {
		return nil, fmt.Errorf("role must be founder, developer or investor")
	}

	var result map[string]any
	err := h.withContract(ctx, args.ContractID, func(ctx context.Context, c *domain.Contract) error {
		if c.Status != domain.ContractStatusDraft && c.Status != domain.ContractStatusPendingSignatures {
			return fmt.Errorf("contract is %s and can no longer be signed", c.Status)
		}
		if err := claimSlot(c, role, args.UserID); err != nil {
			return err
		}
		for _, s := range c.Signatures {
			if s.Role == role {
				return fmt.Errorf("contract already signed as %s", role)
			}
		}

		now := h.now()
		c.Signatures = append(c.Signatures, domain.Signature{
			UserID:        args.UserID,
			Role:          role,
			SignatureData: args.SignatureData,
			SignedAt:      now,
		})
		if fullySigned(c) {
			c.Status = domain.ContractStatusActive
		} else {
			c.Status = domain.ContractStatusPendingSignatures
		}
		c.UpdatedAt = now
		if err := h.ledger.UpdateContract(ctx, c); err != nil {
			return fmt.Errorf("failed to save signature: %w", err)
		}

		result = map[string]any{
			"contract_id": c.ContractID,
			"signed_by":   args.UserID,
			"role":        role,
			"signed_at":   now,
			"status":      c.Status,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.capture(ctx, tc, domain.EventTypeContractSigned, newID("sig"),
		map[string]any{"contract_id": args.ContractID, "user_id": args.UserID, "role": role}, nil)
	return result, nil
}

// claimSlot checks that userID holds the role on the contract. An empty
// developer or investor slot is taken by the signer.
func claimSlot(c *domain.Contract, role domain.Role, userID string) error {
	var slot *string
	switch role {
	case domain.RoleFounder:
		slot = &c.FounderID
	case domain.RoleDeveloper:
		slot = &c.DeveloperID
	case domain.RoleInvestor:
		slot = &c.InvestorID
	}
	if *slot == "" {
		*slot = userID
		return nil
	}
	if *slot != userID {
		return fmt.Errorf("%s is not the %s on this contract", userID, role)
	}
	return nil
}

// fullySigned reports whether every named party signed. A contract needs a
// developer before it can become active.
func fullySigned(c *domain.Contract) bool {
	if c.DeveloperID == "" {
		return false
	}
	signed := map[domain.Role]string{}
	for _, s := range c.Signatures {
		signed[s.Role] = s.UserID
	}
	for role, id := range c.Parties() {
		if signed[role] != id {
			return false
		}
	}
	return true
}

type listContractsArgs struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
	Role   string `json:"role"`
}

func (h *Handlers) listContracts(ctx context.Context, raw json.RawMessage, _ domain.ToolContext) (any, error) {
	var args listContractsArgs
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	if err := required("user_id", args.UserID); err != nil {
		return nil, err
	}
	if args.Role != "" && !oneOf(args.Role, "founder", "developer", "investor", "any") {
		return nil, fmt.Errorf("role must be founder, developer, investor or any")
	}

	contracts, err := h.ledger.ListContracts(ctx, domain.ContractFilter{
		UserID: args.UserID,
		Status: domain.ContractStatus(args.Status),
		Role:   args.Role,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list contracts: %w", err)
	}
	return map[string]any{
		"contracts": contracts,
		"count":     len(contracts),
		"filters":   args,
	}, nil
}
