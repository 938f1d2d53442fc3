package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/b0ase/kintsugi/internal/domain"
)

// AnthropicClient talks to the Anthropic Messages API.
type AnthropicClient struct {
	model  string
	price  Price
	client anthropic.Client
}

// Ensure AnthropicClient implements Client interface.
var _ Client = (*AnthropicClient)(nil)

// NewAnthropicClient creates a client for the Anthropic Messages API.
func NewAnthropicClient(baseURL, apiKey, model string, price Price) *AnthropicClient {
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(apiKey)),
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(baseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	return &AnthropicClient{
		model:  model,
		price:  price,
		client: anthropic.NewClient(opts...),
	}
}

// Name returns the provider name.
func (c *AnthropicClient) Name() string {
	return "anthropic"
}

// Complete sends a non-streaming message request.
func (c *AnthropicClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	msg, err := c.client.Messages.New(ctx, c.buildParams(req))
	if err != nil {
		return nil, &ProviderError{Provider: c.Name(), Err: err}
	}

	resp := &Response{
		ID:           msg.ID,
		Model:        string(msg.Model),
		FinishReason: string(msg.StopReason),
		Usage:        anthropicUsage(msg.Usage),
	}
	var text, reasoning strings.Builder
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ThinkingBlock:
			reasoning.WriteString(variant.Thinking)
		case anthropic.ToolUseBlock:
			args := string(variant.Input)
			if args == "" {
				args = "{}"
			}
			resp.ToolCalls = append(resp.ToolCalls, domain.ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: args,
			})
		}
	}
	resp.Content = text.String()
	resp.Reasoning = reasoning.String()
	resp.Cost = CalculateCost(resp.Usage, c.price)
	return resp, nil
}

// Stream sends a streaming message request.
func (c *AnthropicClient) Stream(ctx context.Context, req *Request, callback StreamCallback) error {
	stream := c.client.Messages.NewStreaming(ctx, c.buildParams(req))
	defer stream.Close()

	msg := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := msg.Accumulate(event); err != nil {
			return &ProviderError{Provider: c.Name(), Err: err}
		}

		var out StreamEvent
		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if variant.ContentBlock.Type != "tool_use" {
				continue
			}
			out.ToolCalls = []domain.ToolCall{{ID: variant.ContentBlock.ID, Name: variant.ContentBlock.Name}}
		case anthropic.ContentBlockDeltaEvent:
			switch delta := variant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				out.Content = delta.Text
			case anthropic.ThinkingDelta:
				out.Reasoning = delta.Thinking
			default:
				continue
			}
		default:
			continue
		}
		if out.Content == "" && out.Reasoning == "" && len(out.ToolCalls) == 0 {
			continue
		}
		if err := callback(out); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		return &ProviderError{Provider: c.Name(), Err: err}
	}

	usage := anthropicUsage(msg.Usage)
	cost := CalculateCost(usage, c.price)
	return callback(StreamEvent{Done: true, Usage: &usage, Cost: &cost})
}

func (c *AnthropicClient) buildParams(req *Request) anthropic.MessageNewParams {
	sampling := req.Sampling()
	system, messages := toAnthropicMessages(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: sampling.MaxTokens,
		Messages:  messages,
		// The Messages API caps temperature at 1 and rejects it alongside top_p.
		Temperature: anthropic.Float(min(sampling.Temperature, 1.0)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(req.Tools) > 0 {
		params.Tools = toAnthropicTools(req.Tools)
	}
	return params
}

func anthropicUsage(u anthropic.Usage) Usage {
	return Usage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.InputTokens + u.OutputTokens,
	}
}

// toAnthropicMessages splits out the system prompt and folds consecutive
// tool results into a single user turn.
func toAnthropicMessages(messages []domain.Message) (string, []anthropic.MessageParam) {
	var system []string
	out := make([]anthropic.MessageParam, 0, len(messages))
	var pendingResults []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(pendingResults) > 0 {
			out = append(out, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, msg := range messages {
		switch msg.Role {
		case domain.MessageRoleSystem:
			system = append(system, msg.Content)
		case domain.MessageRoleTool:
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		case domain.MessageRoleUser:
			flush()
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case domain.MessageRoleAssistant:
			flush()
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolCalls)+1)
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input any = json.RawMessage(tc.Arguments)
				if !json.Valid([]byte(tc.Arguments)) {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		}
	}
	flush()
	return strings.Join(system, "\n\n"), out
}

func toAnthropicTools(defs []domain.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		var required []string
		if req, ok := def.Parameters["required"].([]string); ok {
			required = req
		}
		param := anthropic.ToolParam{
			Name:        def.Name,
			Description: anthropic.String(def.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: def.Parameters["properties"],
				Required:   required,
			},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out
}
