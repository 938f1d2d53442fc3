// Package policy evaluates role-based tool authorization with OPA.
package policy

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/open-policy-agent/opa/rego"
)

// Decisions returned by the tool policy.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// Input is the document the policy evaluates.
type Input struct {
	ToolName   string         `json:"tool_name"`
	UserID     string         `json:"user_id"`
	Role       string         `json:"role"`
	SessionID  string         `json:"session_id"`
	ContractID string         `json:"contract_id,omitempty"`
	Args       map[string]any `json:"args"`
}

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Decision string
	Reasons  []string
}

// Allowed reports whether the call may proceed.
func (d Decision) Allowed() bool {
	return d.Decision != DecisionBlock
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("policy = data.kintsugi.tool_policy"),
		rego.Module("tool_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// LoadEngine reads a policy from path, or uses DefaultPolicy when path is empty.
func LoadEngine(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return NewEngine(ctx, string(content))
}

// Evaluate checks the tool policy for one call.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	if input.Args == nil {
		input.Args = map[string]any{}
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	// An undefined result means the policy package is missing.
	if len(results) == 0 {
		return Decision{Decision: DecisionAllow}, nil
	}

	doc, _ := results[0].Bindings["policy"].(map[string]interface{})
	decision, _ := doc["decision"].(string)
	if decision == "" {
		decision = DecisionAllow
	}

	var reasons []string
	if deny, ok := doc["deny"].([]interface{}); ok {
		for _, d := range deny {
			if s, ok := d.(string); ok {
				reasons = append(reasons, s)
			}
		}
	}
	sort.Strings(reasons)

	return Decision{Decision: decision, Reasons: reasons}, nil
}

// DefaultPolicy restricts observers and guests to read-only tools and keeps
// milestone review and payment release away from developers.
const DefaultPolicy = `
package kintsugi.tool_policy

import rego.v1

default decision := "allow"

read_only_tools := {
	"get_contract",
	"list_contracts",
	"get_milestone_status",
	"get_escrow_balance",
	"get_order_book",
	"get_exchange_trades",
}

reviewer_tools := {"approve_milestone", "reject_milestone", "release_payment"}

deny contains msg if {
	input.role in {"observer", "guest"}
	not input.tool_name in read_only_tools
	msg := sprintf("%s may only use read-only tools, %s is not permitted", [input.role, input.tool_name])
}

deny contains msg if {
	input.role == "developer"
	input.tool_name in reviewer_tools
	msg := sprintf("developers cannot call %s", [input.tool_name])
}

decision := "block" if count(deny) > 0
`
