// Package service runs negotiation sessions: the orchestrator drives the
// model and tool loop, and Service binds it to the session store.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/b0ase/kintsugi/internal/domain"
	"github.com/b0ase/kintsugi/internal/repository"
	"github.com/b0ase/kintsugi/internal/tools"
)

// Store is the persistence the service needs.
type Store interface {
	LoadSession(ctx context.Context, sessionID string) (*domain.Session, error)
	SaveSession(ctx context.Context, session *domain.Session) error
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
	ListEvents(ctx context.Context, sessionID string, types []string, limit int) ([]domain.Event, error)
	CreateOrder(ctx context.Context, o *domain.Order, priority int) error
}

// Service serializes work per session and persists every change.
type Service struct {
	orch    *Orchestrator
	store   Store
	catalog *tools.Catalog
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Service.
func New(orch *Orchestrator, store Store, catalog *tools.Catalog, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		orch:    orch,
		store:   store,
		catalog: catalog,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func sessionKey(sessionID string) string {
	return "session:" + sessionID
}

// CreateSession starts and persists a new session.
func (s *Service) CreateSession(ctx context.Context, participants []domain.Participant) (*domain.Session, error) {
	session, err := s.orch.StartSession(ctx, participants)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return session, nil
}

// GetSession loads a session with its full history.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.store.LoadSession(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return session, nil
}

// mutate loads a session under its lock, applies fn and saves the result.
// The session is saved even when fn fails, so partial turns are kept.
func (s *Service) mutate(ctx context.Context, sessionID string, fn func(ctx context.Context, session *domain.Session) error) (*domain.Session, error) {
	var session *domain.Session
	err := s.store.WithLock(ctx, sessionKey(sessionID), func(ctx context.Context) error {
		var err error
		session, err = s.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		fnErr := fn(ctx, session)
		if err := s.store.SaveSession(ctx, session); err != nil {
			if fnErr != nil {
				s.logger.Error("failed to save session after failed turn", "session_id", sessionID, "error", err)
				return fnErr
			}
			return fmt.Errorf("failed to save session: %w", err)
		}
		return fnErr
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Chat runs a blocking turn on the stored session.
func (s *Service) Chat(ctx context.Context, sessionID, message, senderID string) (*ChatResult, error) {
	var result *ChatResult
	_, err := s.mutate(ctx, sessionID, func(ctx context.Context, session *domain.Session) error {
		var err error
		result, err = s.orch.Chat(ctx, session, message, senderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// StreamChat runs a streamed turn, passing each event to fn. The session
// stays locked until the stream ends. An error from fn cancels the stream.
func (s *Service) StreamChat(ctx context.Context, sessionID, message, senderID string, fn func(StreamEvent) error) error {
	_, err := s.mutate(ctx, sessionID, func(ctx context.Context, session *domain.Session) error {
		stream, err := s.orch.StreamChat(ctx, session, message, senderID)
		if err != nil {
			return err
		}
		var fnErr error
		for ev := range stream.Events() {
			if fnErr != nil {
				continue
			}
			if fnErr = fn(ev); fnErr != nil {
				stream.Cancel()
			}
		}
		if fnErr != nil {
			return fnErr
		}
		return stream.Err()
	})
	return err
}

// UpdateStatus records a status transition.
func (s *Service) UpdateStatus(ctx context.Context, sessionID string, status domain.SessionStatus, reason string) (*domain.Session, error) {
	return s.mutate(ctx, sessionID, func(ctx context.Context, session *domain.Session) error {
		return s.orch.UpdateStatus(ctx, session, status, reason)
	})
}

// LinkContract binds a contract to the session.
func (s *Service) LinkContract(ctx context.Context, sessionID, contractID string) (*domain.Session, error) {
	return s.mutate(ctx, sessionID, func(ctx context.Context, session *domain.Session) error {
		return s.orch.LinkContract(ctx, session, contractID)
	})
}

// ListEvents returns a session's audit events.
func (s *Service) ListEvents(ctx context.Context, sessionID string, types []string, limit int) ([]domain.Event, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, sessionID, types, limit)
}

// ListTools returns the catalog visible in status, or every tool when
// status is empty.
func (s *Service) ListTools(status string) ([]domain.ToolDefinition, error) {
	if status == "" {
		return s.catalog.All(), nil
	}
	st := domain.SessionStatus(status)
	if !st.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return s.catalog.ForStatus(st), nil
}

// PlaceOrderRequest is a limit order submitted to a token's book.
type PlaceOrderRequest struct {
	TokenID   string           `json:"token_id"`
	UserID    string           `json:"user_id"`
	Side      domain.OrderSide `json:"side"`
	PriceSats int64            `json:"price_sats"`
	Amount    int64            `json:"amount"`
	Priority  int              `json:"priority"`
}

// PlaceOrder validates and stores an order and queues matching for its
// token.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*domain.Order, error) {
	switch {
	case strings.TrimSpace(req.TokenID) == "":
		return nil, fmt.Errorf("%w: token_id is required", ErrInvalidOrder)
	case strings.TrimSpace(req.UserID) == "":
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidOrder)
	case req.Side != domain.OrderSideBuy && req.Side != domain.OrderSideSell:
		return nil, fmt.Errorf("%w: side must be buy or sell", ErrInvalidOrder)
	case req.PriceSats <= 0:
		return nil, fmt.Errorf("%w: price_sats must be positive", ErrInvalidOrder)
	case req.Amount <= 0:
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidOrder)
	}

	order := &domain.Order{
		OrderID:   "ord_" + uuid.New().String(),
		TokenID:   req.TokenID,
		UserID:    req.UserID,
		Side:      req.Side,
		PriceSats: req.PriceSats,
		Amount:    req.Amount,
		Status:    domain.OrderStatusOpen,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateOrder(ctx, order, req.Priority); err != nil {
		return nil, fmt.Errorf("failed to place order: %w", err)
	}
	s.logger.Info("order placed", "order_id", order.OrderID, "token_id", order.TokenID, "side", order.Side)
	return order, nil
}
