package domain

import (
	"encoding/json"
	"time"
)

// Event is a persisted audit record.
type Event struct {
	EventID     string          `json:"event_id"`
	Source      string          `json:"source"`
	Type        EventType       `json:"type"`
	ExternalID  string          `json:"external_id,omitempty"`
	SessionID   string          `json:"session_id,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	ContentHash string          `json:"content_hash"`
	Ts          time.Time       `json:"ts"`
}

// SessionStartedPayload is recorded when a session is created.
type SessionStartedPayload struct {
	Participants []Participant `json:"participants"`
	Status       SessionStatus `json:"status"`
}

// TurnPayload is recorded after a chat or stream turn completes.
type TurnPayload struct {
	SenderID     string   `json:"sender_id"`
	SenderRole   Role     `json:"sender_role"`
	Input        string   `json:"input"`
	Output       string   `json:"output"`
	ToolsUsed    []string `json:"tools_used"`
	Iterations   int      `json:"iterations,omitempty"`
	Exhausted    bool     `json:"exhausted,omitempty"`
	PromptTokens int64    `json:"prompt_tokens"`
	OutputTokens int64    `json:"completion_tokens"`
	TotalTokens  int64    `json:"total_tokens"`
	CostUSD      float64  `json:"cost_usd"`
}

// StatusChangedPayload is recorded by explicit status transitions.
type StatusChangedPayload struct {
	OldStatus SessionStatus `json:"old_status"`
	NewStatus SessionStatus `json:"new_status"`
	Reason    string        `json:"reason,omitempty"`
}

// ContractLinkedPayload is recorded when a contract is bound to a session.
type ContractLinkedPayload struct {
	ContractID string        `json:"contract_id"`
	OldStatus  SessionStatus `json:"old_status"`
	NewStatus  SessionStatus `json:"new_status"`
}
