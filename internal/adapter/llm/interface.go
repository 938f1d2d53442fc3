// Package llm provides a uniform completion client over the supported model
// providers.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/b0ase/kintsugi/internal/domain"
)

// ErrNoProvider is returned when no provider has credentials configured.
var ErrNoProvider = errors.New("no completion provider configured")

// Client defines the completion operations the orchestrator depends on.
type Client interface {
	// Name identifies the provider for logging and metering.
	Name() string

	// Complete sends a blocking completion request.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Stream sends a streaming completion request. The callback receives
	// events in order; the final event has Done set. Stream returns once
	// the done event was delivered or an error occurred.
	Stream(ctx context.Context, req *Request, callback StreamCallback) error
}

// StreamCallback is called for each streaming event. Returning an error
// aborts the stream.
type StreamCallback func(event StreamEvent) error

// Request is a completion request.
type Request struct {
	Messages []domain.Message
	Tools    []domain.ToolDefinition
	Mode     Mode

	// Optional overrides of the mode's sampling profile.
	Temperature *float64
	TopP        *float64
	MaxTokens   *int64
}

// Response is a completion result.
type Response struct {
	ID           string            `json:"id"`
	Model        string            `json:"model"`
	Content      string            `json:"content"`
	Reasoning    string            `json:"reasoning,omitempty"`
	ToolCalls    []domain.ToolCall `json:"tool_calls,omitempty"`
	FinishReason string            `json:"finish_reason,omitempty"`
	Usage        Usage             `json:"usage"`
	Cost         Cost              `json:"cost"`
}

// Usage is the token usage of a completion.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Add returns the element-wise sum of two usages.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// Cost is the USD cost of a completion.
type Cost struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
	Total  float64 `json:"total"`
}

// Add returns the element-wise sum of two costs.
func (c Cost) Add(o Cost) Cost {
	return Cost{
		Input:  c.Input + o.Input,
		Output: c.Output + o.Output,
		Total:  c.Total + o.Total,
	}
}

// StreamEvent is one partial event of a streaming completion. ToolCalls
// carry names only; arguments are never surfaced while streaming.
type StreamEvent struct {
	Content   string            `json:"content,omitempty"`
	Reasoning string            `json:"reasoning,omitempty"`
	ToolCalls []domain.ToolCall `json:"tool_calls,omitempty"`
	Done      bool              `json:"done,omitempty"`
	Usage     *Usage            `json:"usage,omitempty"`
	Cost      *Cost             `json:"cost,omitempty"`
}

// ProviderError wraps a failure returned by a provider SDK.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s completion failed: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsProviderError reports whether err came from a completion provider.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
