package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/b0ase/kintsugi/internal/domain"
)

// MockClient is an offline Client used for demos and local development.
// When the latest user message names an offered tool, the first completion
// of the turn calls it with empty arguments.
type MockClient struct {
	price Price
}

// NewMockClient creates a new mock completion client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Ensure MockClient implements Client interface.
var _ Client = (*MockClient)(nil)

// Name returns the provider name.
func (m *MockClient) Name() string {
	return "mock"
}

// Complete returns a canned response.
func (m *MockClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp := &Response{
		ID:           fmt.Sprintf("mock-chatcmpl-%d", time.Now().UnixNano()),
		Model:        "mock",
		FinishReason: "stop",
	}
	if tool, ok := m.requestedTool(req); ok {
		resp.ToolCalls = []domain.ToolCall{{
			ID:        fmt.Sprintf("call_mock_%d", time.Now().UnixNano()),
			Name:      tool,
			Arguments: "{}",
		}}
		resp.FinishReason = "tool_calls"
	} else {
		resp.Content = m.generateMockResponse(req)
	}
	resp.Usage = m.usage(req, resp.Content)
	resp.Cost = CalculateCost(resp.Usage, m.price)
	return resp, nil
}

// Stream simulates a streaming response.
func (m *MockClient) Stream(ctx context.Context, req *Request, callback StreamCallback) error {
	content := m.generateMockResponse(req)
	for _, chunk := range m.splitIntoChunks(content, 10) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := callback(StreamEvent{Content: chunk}); err != nil {
			return err
		}
	}
	usage := m.usage(req, content)
	cost := CalculateCost(usage, m.price)
	return callback(StreamEvent{Done: true, Usage: &usage, Cost: &cost})
}

// requestedTool picks a tool named in the latest user message, unless the
// turn has already produced tool results.
func (m *MockClient) requestedTool(req *Request) (string, bool) {
	if len(req.Messages) == 0 || len(req.Tools) == 0 {
		return "", false
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != domain.MessageRoleUser {
		return "", false
	}
	for _, t := range req.Tools {
		if strings.Contains(last.Content, t.Name) {
			return t.Name, true
		}
	}
	return "", false
}

func (m *MockClient) generateMockResponse(req *Request) string {
	var lastUserMessage string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == domain.MessageRoleUser {
			lastUserMessage = req.Messages[i].Content
			break
		}
	}

	if lastUserMessage == "" {
		return "[MOCK] This is a mock response from the completion client."
	}
	return fmt.Sprintf("[MOCK] Received your message: %q. This is a mock response.", truncate(lastUserMessage, 100))
}

func (m *MockClient) usage(req *Request, content string) Usage {
	prompt := 0
	for _, msg := range req.Messages {
		prompt += len(msg.Content) / 4
	}
	completion := len(content) / 4
	return Usage{
		PromptTokens:     int64(prompt),
		CompletionTokens: int64(completion),
		TotalTokens:      int64(prompt + completion),
	}
}

func (m *MockClient) splitIntoChunks(s string, chunkSize int) []string {
	if len(s) == 0 {
		return []string{""}
	}

	var chunks []string
	for i := 0; i < len(s); i += chunkSize {
		end := i + chunkSize
		if end > len(s) {
			end = len(s)
		}
		chunks = append(chunks, s[i:end])
	}
	return chunks
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
