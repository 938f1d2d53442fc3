package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/b0ase/kintsugi/internal/adapter/llm"
	"github.com/b0ase/kintsugi/internal/domain"
	"github.com/b0ase/kintsugi/internal/events"
	"github.com/b0ase/kintsugi/internal/metering"
	"github.com/b0ase/kintsugi/internal/tools"
)

// DefaultMaxToolIterations bounds the tool rounds of one chat turn.
const DefaultMaxToolIterations = 10

// ToolRunner executes the tool calls of one model response.
type ToolRunner interface {
	ExecuteTools(ctx context.Context, calls []domain.ToolCall, tc domain.ToolContext) map[string]domain.ToolResult
}

// Options configures an Orchestrator.
type Options struct {
	MaxToolIterations int
	Mode              llm.Mode
	SystemPrompt      string
}

// Orchestrator drives sessions: it gates the tool catalog by session status,
// runs the bounded tool loop and audits every lifecycle step. It does not
// serialize access to a session; callers hold one writer per session.
type Orchestrator struct {
	client  llm.Client
	catalog *tools.Catalog
	runner  ToolRunner
	sink    events.Sink
	meter   metering.Meter
	opts    Options
	logger  *slog.Logger
	now     func() time.Time
}

// NewOrchestrator creates an orchestrator. sink and meter may be nil.
func NewOrchestrator(client llm.Client, catalog *tools.Catalog, runner ToolRunner, sink events.Sink, meter metering.Meter, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.MaxToolIterations <= 0 {
		opts.MaxToolIterations = DefaultMaxToolIterations
	}
	if opts.Mode == "" {
		opts.Mode = llm.DefaultMode
	}
	if meter == nil {
		meter = metering.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		client:  client,
		catalog: catalog,
		runner:  runner,
		sink:    sink,
		meter:   meter,
		opts:    opts,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ChatResult is the outcome of one chat turn. Exhausted is set when the
// iteration cap was reached while the model still asked for tools; Response
// is then the content of that last completion.
type ChatResult struct {
	Response   string          `json:"response"`
	Reasoning  string          `json:"reasoning,omitempty"`
	ToolsUsed  []string        `json:"tools_used"`
	Exhausted  bool            `json:"exhausted,omitempty"`
	Iterations int             `json:"iterations"`
	Usage      llm.Usage       `json:"usage"`
	Cost       llm.Cost        `json:"cost"`
	Session    *domain.Session `json:"session"`
}

// StartSession creates a session in the negotiating state, seeded with the
// system prompt.
func (o *Orchestrator) StartSession(ctx context.Context, participants []domain.Participant) (*domain.Session, error) {
	if err := validateParticipants(participants); err != nil {
		return nil, err
	}

	now := o.now()
	session := &domain.Session{
		SessionID:    "sess_" + uuid.New().String(),
		Participants: append([]domain.Participant(nil), participants...),
		Status:       domain.StatusNegotiating,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	o.appendMessage(session, domain.Message{
		Role:    domain.MessageRoleSystem,
		Content: systemPrompt(o.opts.SystemPrompt, participants),
	})

	o.capture(ctx, session, domain.EventTypeSessionStarted, domain.SessionStartedPayload{
		Participants: session.Participants,
		Status:       session.Status,
	})
	o.logger.Info("session started", "session_id", session.SessionID, "participants", len(participants))
	return session, nil
}

func validateParticipants(participants []domain.Participant) error {
	if len(participants) == 0 {
		return fmt.Errorf("%w: at least one participant is required", ErrInvalidParticipants)
	}
	seen := make(map[string]bool, len(participants))
	for _, p := range participants {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("%w: participant id is required", ErrInvalidParticipants)
		}
		if !p.Role.Valid() {
			return fmt.Errorf("%w: participant %s has unknown role %q", ErrInvalidParticipants, p.ID, p.Role)
		}
		if seen[p.ID] {
			return fmt.Errorf("%w: duplicate participant %s", ErrInvalidParticipants, p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

// sender resolves the participant behind senderID. Unknown senders are
// treated as guests.
func sender(session *domain.Session, senderID string) domain.Participant {
	if p, ok := session.Participant(senderID); ok {
		return p
	}
	return domain.Participant{ID: senderID, Role: domain.RoleGuest}
}

func toolContext(session *domain.Session, p domain.Participant) domain.ToolContext {
	return domain.ToolContext{
		UserID:     p.ID,
		SessionID:  session.SessionID,
		ContractID: session.ContractID,
		Role:       p.Role,
	}
}

// beginTurn meters the turn and appends the tagged user message.
func (o *Orchestrator) beginTurn(session *domain.Session, message, senderID string) (domain.Participant, error) {
	if session == nil {
		return domain.Participant{}, fmt.Errorf("session is required")
	}
	if strings.TrimSpace(message) == "" {
		return domain.Participant{}, ErrEmptyMessage
	}
	p := sender(session, senderID)
	o.meter.MeterAPICall(o.client.Name(), session.SessionID)
	o.appendMessage(session, domain.Message{
		Role:     domain.MessageRoleUser,
		Content:  senderTag(p) + ": " + message,
		SenderID: senderID,
	})
	return p, nil
}

// Chat runs one blocking turn. The model may call tools for up to
// MaxToolIterations rounds; calls in a round run concurrently. Provider
// errors end the turn and are returned as is, leaving the messages appended
// so far on the session.
func (o *Orchestrator) Chat(ctx context.Context, session *domain.Session, message, senderID string) (*ChatResult, error) {
	p, err := o.beginTurn(session, message, senderID)
	if err != nil {
		return nil, err
	}
	tc := toolContext(session, p)
	defs := o.catalog.ForStatus(session.Status)

	result := &ChatResult{ToolsUsed: []string{}, Session: session}
	var resp *llm.Response
	for {
		resp, err = o.client.Complete(ctx, &llm.Request{
			Messages: append([]domain.Message(nil), session.Messages...),
			Tools:    defs,
			Mode:     o.opts.Mode,
		})
		if err != nil {
			o.logger.Error("completion failed", "session_id", session.SessionID, "engine", o.client.Name(), "error", err)
			return nil, err
		}
		result.Usage = result.Usage.Add(resp.Usage)
		result.Cost = result.Cost.Add(resp.Cost)

		if len(resp.ToolCalls) == 0 {
			break
		}
		if result.Iterations >= o.opts.MaxToolIterations {
			result.Exhausted = true
			o.logger.Warn("tool iteration cap reached", "session_id", session.SessionID, "max", o.opts.MaxToolIterations)
			break
		}
		result.Iterations++
		o.runTools(ctx, session, resp, tc, result)
	}

	result.Response = resp.Content
	result.Reasoning = resp.Reasoning
	o.appendMessage(session, domain.Message{
		Role:      domain.MessageRoleAssistant,
		Content:   resp.Content,
		Reasoning: resp.Reasoning,
	})

	o.meter.RecordUsage(o.client.Name(), result.Usage, result.Cost)
	o.capture(ctx, session, domain.EventTypeChatTurn, domain.TurnPayload{
		SenderID:     p.ID,
		SenderRole:   p.Role,
		Input:        message,
		Output:       result.Response,
		ToolsUsed:    result.ToolsUsed,
		Iterations:   result.Iterations,
		Exhausted:    result.Exhausted,
		PromptTokens: result.Usage.PromptTokens,
		OutputTokens: result.Usage.CompletionTokens,
		TotalTokens:  result.Usage.TotalTokens,
		CostUSD:      result.Cost.Total,
	})
	return result, nil
}

// runTools appends the assistant tool-call message, executes the calls and
// appends one tool message per call in emission order.
func (o *Orchestrator) runTools(ctx context.Context, session *domain.Session, resp *llm.Response, tc domain.ToolContext, result *ChatResult) {
	o.appendMessage(session, domain.Message{
		Role:      domain.MessageRoleAssistant,
		Content:   resp.Content,
		Reasoning: resp.Reasoning,
		ToolCalls: resp.ToolCalls,
	})

	results := o.runner.ExecuteTools(ctx, resp.ToolCalls, tc)
	for _, call := range resp.ToolCalls {
		result.ToolsUsed = append(result.ToolsUsed, call.Name)
		res, ok := results[call.ID]
		if !ok {
			res = domain.ToolResult{Success: false, Error: "tool produced no result"}
		}
		o.appendMessage(session, domain.Message{
			Role:       domain.MessageRoleTool,
			Content:    encodeResult(res),
			ToolCallID: call.ID,
		})
	}
}

func encodeResult(res domain.ToolResult) string {
	b, err := json.Marshal(res)
	if err != nil {
		b, _ = json.Marshal(domain.ToolResult{Success: false, Error: "unserializable tool result: " + err.Error()})
	}
	return string(b)
}

// UpdateStatus sets the session status. Transitions are not checked; the
// caller decides when a transition is legitimate.
func (o *Orchestrator) UpdateStatus(ctx context.Context, session *domain.Session, status domain.SessionStatus, reason string) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	old := session.Status
	session.Status = status
	session.UpdatedAt = o.now()

	o.capture(ctx, session, domain.EventTypeStatusChanged, domain.StatusChangedPayload{
		OldStatus: old,
		NewStatus: status,
		Reason:    reason,
	})
	o.logger.Info("session status changed", "session_id", session.SessionID, "old_status", old, "new_status", status)
	return nil
}

// LinkContract binds a contract and moves the session to contracted in one
// step.
func (o *Orchestrator) LinkContract(ctx context.Context, session *domain.Session, contractID string) error {
	if strings.TrimSpace(contractID) == "" {
		return ErrContractRequired
	}
	old := session.Status
	session.ContractID = contractID
	session.Status = domain.StatusContracted
	session.UpdatedAt = o.now()

	o.capture(ctx, session, domain.EventTypeContractLinked, domain.ContractLinkedPayload{
		ContractID: contractID,
		OldStatus:  old,
		NewStatus:  domain.StatusContracted,
	})
	return nil
}

func (o *Orchestrator) appendMessage(session *domain.Session, msg domain.Message) {
	now := o.now()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	session.Messages = append(session.Messages, msg)
	session.UpdatedAt = now
}

// capture records a session lifecycle event. Failures are logged only.
func (o *Orchestrator) capture(ctx context.Context, session *domain.Session, eventType domain.EventType, payload any) {
	if o.sink == nil {
		return
	}
	err := o.sink.Capture(ctx, events.Event{
		EventType:  eventType,
		ExternalID: session.SessionID,
		SessionID:  session.SessionID,
		Payload:    payload,
		Metadata:   map[string]any{"sessionId": session.SessionID, "status": session.Status},
	})
	if err != nil {
		o.logger.Warn("failed to capture event", "event_type", eventType, "session_id", session.SessionID, "error", err)
	}
}
