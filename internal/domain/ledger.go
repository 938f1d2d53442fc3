package domain

import "time"

// ContractStatus tracks a contract through signing and delivery.
type ContractStatus string

const (
	ContractStatusDraft             ContractStatus = "draft"
	ContractStatusPendingSignatures ContractStatus = "pending_signatures"
	ContractStatusActive            ContractStatus = "active"
	ContractStatusCompleted         ContractStatus = "completed"
	ContractStatusDisputed          ContractStatus = "disputed"
	ContractStatusCancelled         ContractStatus = "cancelled"
)

// MilestoneStatus tracks a single deliverable.
type MilestoneStatus string

const (
	MilestoneStatusPending       MilestoneStatus = "pending"
	MilestoneStatusPendingReview MilestoneStatus = "pending_review"
	MilestoneStatusApproved      MilestoneStatus = "approved"
	MilestoneStatusRejected      MilestoneStatus = "rejected"
	MilestoneStatusPaid          MilestoneStatus = "paid"
)

// Contract is an agreement among founder, developer and investor.
type Contract struct {
	ContractID       string         `json:"contract_id"`
	SessionID        string         `json:"session_id,omitempty"`
	Title            string         `json:"title"`
	Description      string         `json:"description"`
	FounderID        string         `json:"founder_id"`
	DeveloperID      string         `json:"developer_id,omitempty"`
	InvestorID       string         `json:"investor_id,omitempty"`
	TotalValueUSD    float64        `json:"total_value_usd"`
	EquityPercentage float64        `json:"equity_percentage,omitempty"`
	Status           ContractStatus `json:"status"`
	Milestones       []Milestone    `json:"milestones"`
	Signatures       []Signature    `json:"signatures"`
	CreatedBy        string         `json:"created_by,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Parties returns the non-empty party ids keyed by role.
func (c *Contract) Parties() map[Role]string {
	parties := map[Role]string{RoleFounder: c.FounderID}
	if c.DeveloperID != "" {
		parties[RoleDeveloper] = c.DeveloperID
	}
	if c.InvestorID != "" {
		parties[RoleInvestor] = c.InvestorID
	}
	return parties
}

// Milestone finds a milestone by id.
func (c *Contract) Milestone(id string) (*Milestone, bool) {
	for i := range c.Milestones {
		if c.Milestones[i].MilestoneID == id {
			return &c.Milestones[i], true
		}
	}
	return nil, false
}

// Milestone is a unit of deliverable work with a value and deadline.
type Milestone struct {
	MilestoneID     string          `json:"milestone_id"`
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	ValueUSD        float64         `json:"value_usd"`
	DueDays         int             `json:"due_days,omitempty"`
	Status          MilestoneStatus `json:"status"`
	Deliverables    []string        `json:"deliverables,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	ReviewedBy      string          `json:"reviewed_by,omitempty"`
	Feedback        string          `json:"feedback,omitempty"`
	RequiredChanges []string        `json:"required_changes,omitempty"`
	SubmittedAt     *time.Time      `json:"submitted_at,omitempty"`
	ReviewedAt      *time.Time      `json:"reviewed_at,omitempty"`
}

// Signature records a party signing a contract.
type Signature struct {
	UserID        string    `json:"user_id"`
	Role          Role      `json:"role"`
	SignatureData string    `json:"signature_data,omitempty"`
	SignedAt      time.Time `json:"signed_at"`
}

// EscrowKind classifies an escrow ledger entry.
type EscrowKind string

const (
	EscrowKindFund    EscrowKind = "fund"
	EscrowKindRelease EscrowKind = "release"
	EscrowKindRefund  EscrowKind = "refund"
)

// Escrow entry statuses. Only completed entries count toward the balance.
const (
	EscrowStatusCompleted     = "completed"
	EscrowStatusPendingReview = "pending_review"
)

// EscrowEntry is one movement of funds in or out of a contract's escrow.
type EscrowEntry struct {
	EntryID       string     `json:"entry_id"`
	ContractID    string     `json:"contract_id"`
	Kind          EscrowKind `json:"kind"`
	AmountUSD     float64    `json:"amount_usd"`
	UserID        string     `json:"user_id"`
	MilestoneID   string     `json:"milestone_id,omitempty"`
	PaymentMethod string     `json:"payment_method,omitempty"`
	Status        string     `json:"status"`
	Reason        string     `json:"reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// EscrowBalance summarizes a contract's escrow entries.
type EscrowBalance struct {
	ContractID    string  `json:"contract_id"`
	BalanceUSD    float64 `json:"balance_usd"`
	TotalFunded   float64 `json:"total_funded"`
	TotalReleased float64 `json:"total_released"`
	TotalRefunded float64 `json:"total_refunded"`
}

// DisputeStatus tracks a dispute from filing to resolution.
type DisputeStatus string

const (
	DisputeStatusOpen             DisputeStatus = "open"
	DisputeStatusResponseReceived DisputeStatus = "response_received"
	DisputeStatusResolved         DisputeStatus = "resolved"
)

// Dispute is a formal disagreement raised on a contract.
type Dispute struct {
	DisputeID      string            `json:"dispute_id"`
	ContractID     string            `json:"contract_id"`
	RaisedBy       string            `json:"raised_by"`
	DisputeType    string            `json:"dispute_type"`
	Description    string            `json:"description"`
	Evidence       []string          `json:"evidence,omitempty"`
	Status         DisputeStatus     `json:"status"`
	Responses      []DisputeResponse `json:"responses,omitempty"`
	ResolutionType string            `json:"resolution_type,omitempty"`
	Outcome        *DisputeOutcome   `json:"outcome,omitempty"`
	CreatedAt      time.Time         `json:"raised_at"`
	ResolvedAt     *time.Time        `json:"resolved_at,omitempty"`
}

// DisputeResponse is one party's answer to a dispute.
type DisputeResponse struct {
	ResponderID        string    `json:"responder_id"`
	Response           string    `json:"response"`
	CounterEvidence    []string  `json:"counter_evidence,omitempty"`
	ProposedResolution string    `json:"proposed_resolution,omitempty"`
	RespondedAt        time.Time `json:"responded_at"`
}

// DisputeOutcome is the decision that closes a dispute.
type DisputeOutcome struct {
	RefundPercentage float64 `json:"refund_percentage"`
	ContinueContract bool    `json:"continue_contract"`
	Notes            string  `json:"notes,omitempty"`
}

// Terms are the negotiable economic parameters of a deal.
type Terms struct {
	TotalValueUSD    float64 `json:"total_value_usd,omitempty"`
	EquityPercentage float64 `json:"equity_percentage,omitempty"`
	TimelineDays     int     `json:"timeline_days,omitempty"`
	PaymentSchedule  string  `json:"payment_schedule,omitempty"`
	ScopeChanges     string  `json:"scope_changes,omitempty"`
}

// ProposalStatus tracks a proposal within a negotiation.
type ProposalStatus string

const (
	ProposalStatusPending         ProposalStatus = "pending"
	ProposalStatusCounterProposed ProposalStatus = "counter_proposed"
	ProposalStatusAccepted        ProposalStatus = "accepted"
	ProposalStatusSuperseded      ProposalStatus = "superseded"
)

// Proposal is one set of terms put forward in a negotiation.
type Proposal struct {
	ProposalID    string         `json:"proposal_id"`
	NegotiationID string         `json:"negotiation_id"`
	SessionID     string         `json:"session_id,omitempty"`
	ProposedBy    string         `json:"proposed_by"`
	Terms         Terms          `json:"terms"`
	Rationale     string         `json:"rationale,omitempty"`
	Counter       bool           `json:"counter,omitempty"`
	Status        ProposalStatus `json:"status"`
	AcceptedBy    string         `json:"accepted_by,omitempty"`
	CreatedAt     time.Time      `json:"proposed_at"`
}

// OrderSide is buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus tracks fill progress of an exchange order.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is a limit order on a token's order book. Prices are in satoshis.
type Order struct {
	OrderID      string      `json:"id"`
	TokenID      string      `json:"token_id"`
	UserID       string      `json:"user_id"`
	Side         OrderSide   `json:"side"`
	PriceSats    int64       `json:"price_sats"`
	Amount       int64       `json:"amount"`
	FilledAmount int64       `json:"filled_amount"`
	Status       OrderStatus `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Remaining returns the unfilled amount.
func (o *Order) Remaining() int64 {
	return o.Amount - o.FilledAmount
}

// Trade is an executed match between a buy and a sell order.
type Trade struct {
	TradeID     string    `json:"id"`
	TokenID     string    `json:"token_id"`
	BuyOrderID  string    `json:"buy_order_id"`
	SellOrderID string    `json:"sell_order_id"`
	BuyerID     string    `json:"buyer_id"`
	SellerID    string    `json:"seller_id"`
	PriceSats   int64     `json:"price_sats"`
	Amount      int64     `json:"amount"`
	TotalSats   int64     `json:"total_sats"`
	ExecutedAt  time.Time `json:"executed_at"`
}

// PriceLevel aggregates open orders at one price.
type PriceLevel struct {
	PriceSats  int64 `json:"price_sats"`
	Amount     int64 `json:"amount"`
	OrderCount int   `json:"order_count"`
}

// OrderBook is the aggregated view of a token's open orders.
type OrderBook struct {
	TokenID   string       `json:"token_id"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	BestBid   int64        `json:"best_bid,omitempty"`
	BestAsk   int64        `json:"best_ask,omitempty"`
	SpreadSat int64        `json:"spread_sats,omitempty"`
}

// QueueStatus tracks a match queue item.
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusCompleted  QueueStatus = "completed"
)

// MatchQueueItem asks for matching to run for a token.
type MatchQueueItem struct {
	ItemID        string      `json:"id"`
	TokenID       string      `json:"token_id"`
	OrderID       string      `json:"order_id,omitempty"`
	Priority      int         `json:"priority"`
	Status        QueueStatus `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
	LastAttemptAt *time.Time  `json:"last_attempt_at,omitempty"`
}

// ContractFilter narrows a contract listing. Role "any" or empty matches a
// user in any party slot.
type ContractFilter struct {
	UserID string
	Status ContractStatus
	Role   string
}
