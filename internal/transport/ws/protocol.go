package ws

import "github.com/b0ase/kintsugi/internal/service"

// Message types from client to server
const (
	TypeHello = "hello"
	TypeChat  = "chat"
)

// Message types from server to client
const (
	TypeHelloAck    = "hello_ack"
	TypeUserMessage = "user_message"
	TypeStream      = "stream"
	TypeError       = "error"
)

// BaseMessage contains common fields for all messages.
type BaseMessage struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts"`
	RequestID string `json:"request_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// HelloMessage binds a connection to a participant of the session.
type HelloMessage struct {
	BaseMessage
	UserID string `json:"user_id"`
}

// HelloAckMessage confirms a hello.
type HelloAckMessage struct {
	BaseMessage
	UserID string `json:"user_id"`
}

// ChatMessage asks for a streamed turn.
type ChatMessage struct {
	BaseMessage
	Content string `json:"content"`
}

// UserMessageMessage shows every participant what was said.
type UserMessageMessage struct {
	BaseMessage
	SenderID string `json:"sender_id"`
	Content  string `json:"content"`
}

// StreamMessage relays one event of a streamed turn.
type StreamMessage struct {
	BaseMessage
	SenderID string              `json:"sender_id"`
	Event    service.StreamEvent `json:"event"`
}

// ErrorMessage is sent when a request fails.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrorCodeInvalidMessage  = "invalid_message"
	ErrorCodeSessionRequired = "session_required"
	ErrorCodeRateLimited     = "rate_limited"
	ErrorCodeTurnFailed      = "turn_failed"
)
