package domain

import "time"

// Participant is a member of a negotiation session.
type Participant struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
	Name string `json:"name,omitempty"`
}

// Label returns the display name, falling back to the id.
func (p Participant) Label() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

// Session is one ongoing negotiation thread and its full message history.
type Session struct {
	SessionID    string        `json:"session_id"`
	Participants []Participant `json:"participants"`
	Status       SessionStatus `json:"status"`
	ContractID   string        `json:"contract_id,omitempty"`
	Messages     []Message     `json:"messages"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Participant looks up a participant by id.
func (s *Session) Participant(id string) (Participant, bool) {
	for _, p := range s.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}

// Clone returns a copy whose slices can be mutated independently.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Participants = append([]Participant(nil), s.Participants...)
	out.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		m.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
		out.Messages[i] = m
	}
	return &out
}

// Message is one entry in a session's append-only history.
type Message struct {
	Role       MessageRole `json:"role"`
	Content    string      `json:"content"`
	Reasoning  string      `json:"reasoning,omitempty"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
	SenderID   string      `json:"sender_id,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// ToolCall is a model request to invoke a tool. Arguments are the raw JSON
// emitted by the model and are only validated at execution time.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}
