package service

import (
	"context"
	"strings"
	"sync"

	"github.com/b0ase/kintsugi/internal/adapter/llm"
	"github.com/b0ase/kintsugi/internal/domain"
)

// StreamEventType tags a stream event.
type StreamEventType string

const (
	StreamEventContent   StreamEventType = "content"
	StreamEventReasoning StreamEventType = "reasoning"
	StreamEventToolCall  StreamEventType = "tool_call"
	StreamEventDone      StreamEventType = "done"
)

// StreamEvent is one event of a streamed turn.
type StreamEvent struct {
	Type      StreamEventType `json:"type"`
	Content   string          `json:"content,omitempty"`
	Reasoning string          `json:"reasoning,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	Provider  string          `json:"provider,omitempty"`
	Usage     *llm.Usage      `json:"usage,omitempty"`
	Cost      *llm.Cost       `json:"cost,omitempty"`
}

// ChatStream delivers the events of one streamed turn. Events is unbuffered:
// the producer waits for the consumer. Consumers must drain Events or call
// Cancel. Err is valid once Events is closed.
type ChatStream struct {
	events chan StreamEvent
	done   chan struct{}
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

func newChatStream(cancel context.CancelFunc) *ChatStream {
	return &ChatStream{
		events: make(chan StreamEvent),
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

// Events returns the event channel. It is closed when the turn ends.
func (s *ChatStream) Events() <-chan StreamEvent {
	return s.events
}

// Cancel aborts the turn.
func (s *ChatStream) Cancel() {
	s.cancel()
}

// Wait blocks until the turn ends and returns its error.
func (s *ChatStream) Wait() error {
	<-s.done
	return s.Err()
}

// Err returns the error that ended the turn, if any.
func (s *ChatStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *ChatStream) finish(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.events)
	close(s.done)
	s.cancel()
}

// send delivers ev unless ctx ends first.
func (s *ChatStream) send(ctx context.Context, ev StreamEvent) error {
	select {
	case s.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StreamChat runs one streamed turn. Content, reasoning and tool-call names
// are relayed as they arrive, followed by a done event. Tools named by the
// model are reported but never executed, and the assistant message is
// appended without tool calls. The session must not be touched until the
// stream ends.
func (o *Orchestrator) StreamChat(ctx context.Context, session *domain.Session, message, senderID string) (*ChatStream, error) {
	p, err := o.beginTurn(session, message, senderID)
	if err != nil {
		return nil, err
	}
	defs := o.catalog.ForStatus(session.Status)
	req := &llm.Request{
		Messages: append([]domain.Message(nil), session.Messages...),
		Tools:    defs,
		Mode:     o.opts.Mode,
	}

	ctx, cancel := context.WithCancel(ctx)
	stream := newChatStream(cancel)
	go func() {
		stream.finish(o.runStream(ctx, stream, session, p, message, req))
	}()
	return stream, nil
}

func (o *Orchestrator) runStream(ctx context.Context, stream *ChatStream, session *domain.Session, p domain.Participant, message string, req *llm.Request) error {
	var (
		content   strings.Builder
		reasoning strings.Builder
		usage     llm.Usage
		cost      llm.Cost
	)
	toolsUsed := []string{}
	err := o.client.Stream(ctx, req, func(ev llm.StreamEvent) error {
		if ev.Done {
			if ev.Usage != nil {
				usage = *ev.Usage
			}
			if ev.Cost != nil {
				cost = *ev.Cost
			}
			return nil
		}
		if ev.Reasoning != "" {
			reasoning.WriteString(ev.Reasoning)
			if err := stream.send(ctx, StreamEvent{Type: StreamEventReasoning, Reasoning: ev.Reasoning}); err != nil {
				return err
			}
		}
		if ev.Content != "" {
			content.WriteString(ev.Content)
			if err := stream.send(ctx, StreamEvent{Type: StreamEventContent, Content: ev.Content}); err != nil {
				return err
			}
		}
		for _, call := range ev.ToolCalls {
			toolsUsed = append(toolsUsed, call.Name)
			if err := stream.send(ctx, StreamEvent{Type: StreamEventToolCall, ToolName: call.Name}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		o.logger.Error("stream failed", "session_id", session.SessionID, "engine", o.client.Name(), "error", err)
		return err
	}

	o.appendMessage(session, domain.Message{
		Role:      domain.MessageRoleAssistant,
		Content:   content.String(),
		Reasoning: reasoning.String(),
	})
	o.meter.RecordUsage(o.client.Name(), usage, cost)
	o.capture(ctx, session, domain.EventTypeStreamTurn, domain.TurnPayload{
		SenderID:     p.ID,
		SenderRole:   p.Role,
		Input:        message,
		Output:       content.String(),
		ToolsUsed:    toolsUsed,
		PromptTokens: usage.PromptTokens,
		OutputTokens: usage.CompletionTokens,
		TotalTokens:  usage.TotalTokens,
		CostUSD:      cost.Total,
	})
	return stream.send(ctx, StreamEvent{
		Type:     StreamEventDone,
		Provider: o.client.Name(),
		Usage:    &usage,
		Cost:     &cost,
	})
}
