// Package domain defines the core domain models for the negotiation engine.
package domain

// Role is a participant's role class within a session.
type Role string

const (
	RoleFounder   Role = "founder"
	RoleDeveloper Role = "developer"
	RoleInvestor  Role = "investor"
	RoleObserver  Role = "observer"
	// RoleGuest labels a sender that is not a participant of the session.
	RoleGuest Role = "guest"
)

// Valid reports whether r is one of the participant roles.
func (r Role) Valid() bool {
	switch r {
	case RoleFounder, RoleDeveloper, RoleInvestor, RoleObserver:
		return true
	}
	return false
}

// SessionStatus is the business state of a session.
type SessionStatus string

const (
	StatusNegotiating SessionStatus = "negotiating"
	StatusContracted  SessionStatus = "contracted"
	StatusExecuting   SessionStatus = "executing"
	StatusCompleted   SessionStatus = "completed"
	StatusDisputed    SessionStatus = "disputed"
)

// SessionStatuses lists every status in lifecycle order.
var SessionStatuses = []SessionStatus{
	StatusNegotiating,
	StatusContracted,
	StatusExecuting,
	StatusCompleted,
	StatusDisputed,
}

// Valid reports whether s is a known session status.
func (s SessionStatus) Valid() bool {
	for _, v := range SessionStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// MessageRole is the role of a message in the conversation history.
type MessageRole string

const (
	MessageRoleSystem    MessageRole = "system"
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleTool      MessageRole = "tool"
)

// ToolCategory groups tools into fixed, non-overlapping listings.
type ToolCategory string

const (
	CategoryContract    ToolCategory = "contract"
	CategoryMilestone   ToolCategory = "milestone"
	CategoryPayment     ToolCategory = "payment"
	CategoryDispute     ToolCategory = "dispute"
	CategoryNegotiation ToolCategory = "negotiation"
	CategoryExchange    ToolCategory = "exchange"
)

// ToolCategories lists the categories in catalog order.
var ToolCategories = []ToolCategory{
	CategoryContract,
	CategoryMilestone,
	CategoryPayment,
	CategoryDispute,
	CategoryNegotiation,
	CategoryExchange,
}

// EventType identifies an audit event.
type EventType string

const (
	// Session lifecycle events
	EventTypeSessionStarted EventType = "session_started"
	EventTypeChatTurn       EventType = "chat_turn"
	EventTypeStreamTurn     EventType = "stream_turn"
	EventTypeStatusChanged  EventType = "status_changed"
	EventTypeContractLinked EventType = "contract_linked"

	// Tool events
	EventTypeToolCall    EventType = "tool_call"
	EventTypeToolBlocked EventType = "tool_blocked"

	// Ledger events emitted by tool handlers
	EventTypeContractCreated           EventType = "contract_created"
	EventTypeContractSigned            EventType = "contract_signed"
	EventTypeMilestoneSubmitted        EventType = "milestone_submitted"
	EventTypeMilestoneApproved         EventType = "milestone_approved"
	EventTypeMilestoneRejected         EventType = "milestone_rejected"
	EventTypeEscrowFunded              EventType = "escrow_funded"
	EventTypePaymentReleased           EventType = "payment_released"
	EventTypeRefundRequested           EventType = "refund_requested"
	EventTypeDisputeRaised             EventType = "dispute_raised"
	EventTypeDisputeResponse           EventType = "dispute_response"
	EventTypeDisputeResolved           EventType = "dispute_resolved"
	EventTypeTermsProposed             EventType = "terms_proposed"
	EventTypeTermsAccepted             EventType = "terms_accepted"
	EventTypeTermsCountered            EventType = "terms_countered"
	EventTypeExchangeMatchingStarted   EventType = "exchange_matching_started"
	EventTypeExchangeMatchingCompleted EventType = "exchange_matching_completed"
	EventTypeExchangeTradeRequested    EventType = "exchange_trade_requested"
	EventTypeExchangeTradeExecuted     EventType = "exchange_trade_executed"
	EventTypeMatchQueueProcessing      EventType = "match_queue_processing"
)

// EventSourceAgent is the source tag for events emitted by the engine.
const EventSourceAgent = "kintsugi_agent"
