package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/b0ase/kintsugi/internal/domain"
)

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint
// (Moonshot/Kimi, DeepSeek, Gemini's compatibility layer, OpenAI).
type OpenAIClient struct {
	name   string
	model  string
	price  Price
	client openai.Client
}

// Ensure OpenAIClient implements Client interface.
var _ Client = (*OpenAIClient)(nil)

// OpenAIOptions configures an OpenAIClient.
type OpenAIOptions struct {
	Name    string
	BaseURL string
	APIKey  string
	Model   string
	Price   Price
}

// NewOpenAIClient creates a client for an OpenAI-compatible provider.
func NewOpenAIClient(opts OpenAIOptions) *OpenAIClient {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(opts.APIKey)),
		// The orchestrator treats provider failures as fatal for the turn.
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(base))
	}
	name := opts.Name
	if name == "" {
		name = "openai"
	}
	return &OpenAIClient{
		name:   name,
		model:  opts.Model,
		price:  opts.Price,
		client: openai.NewClient(reqOpts...),
	}
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return c.name
}

// Complete sends a non-streaming chat completion.
func (c *OpenAIClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	completion, err := c.client.Chat.Completions.New(ctx, c.buildParams(req))
	if err != nil {
		return nil, &ProviderError{Provider: c.name, Err: err}
	}

	resp := &Response{
		ID:    completion.ID,
		Model: completion.Model,
		Usage: Usage{
			PromptTokens:     completion.Usage.PromptTokens,
			CompletionTokens: completion.Usage.CompletionTokens,
			TotalTokens:      completion.Usage.TotalTokens,
		},
	}
	if len(completion.Choices) > 0 {
		choice := completion.Choices[0]
		resp.Content = choice.Message.Content
		resp.FinishReason = choice.FinishReason
		resp.Reasoning = reasoningContent(choice.Message.RawJSON())
		for _, tc := range choice.Message.ToolCalls {
			resp.ToolCalls = append(resp.ToolCalls, domain.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
	}
	resp.Cost = CalculateCost(resp.Usage, c.price)
	return resp, nil
}

// Stream sends a streaming chat completion. Tool calls are surfaced by name
// once, when the provider first announces them.
func (c *OpenAIClient) Stream(ctx context.Context, req *Request, callback StreamCallback) error {
	params := c.buildParams(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var usage Usage
	announced := map[int64]bool{}
	for stream.Next() {
		chunk := stream.Current()
		if chunk.Usage.TotalTokens > 0 {
			usage = Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta

		event := StreamEvent{
			Content:   delta.Content,
			Reasoning: reasoningContent(delta.RawJSON()),
		}
		for _, tc := range delta.ToolCalls {
			if announced[tc.Index] || tc.Function.Name == "" {
				continue
			}
			announced[tc.Index] = true
			event.ToolCalls = append(event.ToolCalls, domain.ToolCall{ID: tc.ID, Name: tc.Function.Name})
		}
		if event.Content == "" && event.Reasoning == "" && len(event.ToolCalls) == 0 {
			continue
		}
		if err := callback(event); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		return &ProviderError{Provider: c.name, Err: err}
	}

	cost := CalculateCost(usage, c.price)
	return callback(StreamEvent{Done: true, Usage: &usage, Cost: &cost})
}

func (c *OpenAIClient) buildParams(req *Request) openai.ChatCompletionNewParams {
	sampling := req.Sampling()
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: openai.Float(sampling.Temperature),
		TopP:        openai.Float(sampling.TopP),
		MaxTokens:   openai.Int(sampling.MaxTokens),
	}
	if len(req.Tools) > 0 {
		params.Tools = toOpenAITools(req.Tools)
	}
	return params
}

func toOpenAIMessages(messages []domain.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case domain.MessageRoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case domain.MessageRoleUser:
			out = append(out, openai.UserMessage(msg.Content))
		case domain.MessageRoleTool:
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolCallID))
		case domain.MessageRoleAssistant:
			if len(msg.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(msg.Content))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				assistant.Content.OfString = openai.String(msg.Content)
			}
			for _, tc := range msg.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		}
	}
	return out
}

func toOpenAITools(defs []domain.ToolDefinition) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  openai.FunctionParameters(def.Parameters),
			},
		})
	}
	return out
}

// reasoningContent extracts the reasoning_content extension field that Kimi
// and DeepSeek attach to messages and deltas.
func reasoningContent(raw string) string {
	if raw == "" || !strings.Contains(raw, "reasoning_content") {
		return ""
	}
	var payload struct {
		ReasoningContent string `json:"reasoning_content"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return ""
	}
	return payload.ReasoningContent
}
