package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/b0ase/kintsugi/internal/domain"
	"github.com/b0ase/kintsugi/internal/exchange"
)

const (
	defaultMaxMatches  = 10
	queueMaxMatches    = 20
	queueBatchSize     = 10
	defaultTradesLimit = 20
	maxTradesLimit     = 100
)

func (h *Handlers) withToken(ctx context.Context, tokenID string, fn func(ctx context.Context) error) error {
	return h.ledger.WithLock(ctx, "token:"+tokenID, fn)
}

// matchRun summarizes one matching pass.
type matchRun struct {
	Trades []domain.Trade
	Errors []string
}

// runMatching matches the open orders of a token and records each fill.
// The caller holds the token lock.
func (h *Handlers) runMatching(ctx context.Context, tokenID string, max int) (matchRun, error) {
	run := matchRun{Trades: []domain.Trade{}}
	orders, err := h.ledger.ListOpenOrders(ctx, tokenID)
	if err != nil {
		return run, fmt.Errorf("failed to load orders: %w", err)
	}
	for _, fill := range exchange.Match(orders, max) {
		buy, sell := fill.Buy, fill.Sell
		trade := fill.Trade()
		trade.TradeID = newID("trd")
		trade.ExecutedAt = h.now()
		if err := h.ledger.RecordTrade(ctx, &trade, &buy, &sell); err != nil {
			h.logger.Warn("failed to record trade", "token_id", tokenID, "buy_order_id", buy.OrderID, "sell_order_id", sell.OrderID, "error", err)
			run.Errors = append(run.Errors, fmt.Sprintf("%s/%s: %v", buy.OrderID, sell.OrderID, err))
			continue
		}
		run.Trades = append(run.Trades, trade)
	}
	return run, nil
}

type matchOrdersArgs struct {
	TokenID    string `json:"token_id"`
	MaxMatches int    `json:"max_matches"`
}

func (h *Handlers) matchExchangeOrders(ctx context.Context, raw json.RawMessage, tc domain.ToolContext) (any, error) {
	var args matchOrdersArgs
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	if err := required("token_id", args.TokenID); err != nil {
		return nil, err
	}
	if args.MaxMatches <= 0 {
		args.MaxMatches = defaultMaxMatches
	}

	h.capture(ctx, tc, domain.EventTypeExchangeMatchingStarted, newID("match"), map[string]any{
		"token_id":    args.TokenID,
		"max_matches": args.MaxMatches,
	}, nil)

	var run matchRun
	err := h.withToken(ctx, args.TokenID, func(ctx context.Context) error {
		var err error
		run, err = h.runMatching(ctx, args.TokenID, args.MaxMatches)
		return err
	})
	if err != nil {
		return nil, err
	}

	h.capture(ctx, tc, domain.EventTypeExchangeMatchingCompleted, newID("match"), map[string]any{
		"token_id":        args.TokenID,
		"trades_executed": len(run.Trades),
		"errors":          len(run.Errors),
	}, nil)

	data := map[string]any{
		"token_id":        args.TokenID,
		"matches_found":   len(run.Trades) + len(run.Errors),
		"trades_executed": len(run.Trades),
		"trades":          run.Trades,
	}
	if len(run.Errors) > 0 {
		data["errors"] = run.Errors
		return domain.ToolResult{
			Success: false,
			Data:    data,
			Error:   fmt.Sprintf("%d of %d matches failed to settle", len(run.Errors), len(run.Trades)+len(run.Errors)),
		}, nil
	}
	return data, nil
}

type executeTradeArgs struct {
	BuyOrderID  string  `json:"buy_order_id"`
	SellOrderID string  `json:"sell_order_id"`
	Amount      float64 `json:"amount"`
}

func (h *Handlers) executeTrade(ctx context.Context, raw json.RawMessage, tc domain.ToolContext) (any, error) {
	var args executeTradeArgs
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	if err := required("buy_order_id", args.BuyOrderID, "sell_order_id", args.SellOrderID); err != nil {
		return nil, err
	}
	if args.Amount <= 0 || args.Amount != math.Trunc(args.Amount) {
		return nil, fmt.Errorf("amount must be a positive whole number")
	}
	amount := int64(args.Amount)

	h.capture(ctx, tc, domain.EventTypeExchangeTradeRequested, newID("req"), map[string]any{
		"buy_order_id":  args.BuyOrderID,
		"sell_order_id": args.SellOrderID,
		"amount":        amount,
	}, nil)

	// The token is only known once the buy order is loaded.
	probe, err := h.ledger.GetOrder(ctx, args.BuyOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load buy order: %w", err)
	}
	if probe == nil {
		return nil, fmt.Errorf("buy order not found: %s", args.BuyOrderID)
	}

	var trade domain.Trade
	err = h.withToken(ctx, probe.TokenID, func(ctx context.Context) error {
		buy, err := h.ledger.GetOrder(ctx, args.BuyOrderID)
		if err != nil {
			return fmt.Errorf("failed to load buy order: %w", err)
		}
		if buy == nil {
			return fmt.Errorf("buy order not found: %s", args.BuyOrderID)
		}
		sell, err := h.ledger.GetOrder(ctx, args.SellOrderID)
		if err != nil {
			return fmt.Errorf("failed to load sell order: %w", err)
		}
		if sell == nil {
			return fmt.Errorf("sell order not found: %s", args.SellOrderID)
		}
		if err := exchange.Apply(buy, sell, amount); err != nil {
			return err
		}
		trade = exchange.Fill{Buy: *buy, Sell: *sell, Amount: amount, PriceSats: sell.PriceSats}.Trade()
		trade.TradeID = newID("trd")
		trade.ExecutedAt = h.now()
		if err := h.ledger.RecordTrade(ctx, &trade, buy, sell); err != nil {
			return fmt.Errorf("failed to record trade: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.capture(ctx, tc, domain.EventTypeExchangeTradeExecuted, trade.TradeID, map[string]any{
		"trade_id":   trade.TradeID,
		"token_id":   trade.TokenID,
		"price_sats": trade.PriceSats,
		"amount":     trade.Amount,
	}, nil)
	return trade, nil
}

type tokenArgs struct {
	TokenID string `json:"token_id"`
	Limit   int    `json:"limit"`
}

func (h *Handlers) getOrderBook(ctx context.Context, raw json.RawMessage, _ domain.ToolContext) (any, error) {
	var args tokenArgs
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	if err := required("token_id", args.TokenID); err != nil {
		return nil, err
	}
	orders, err := h.ledger.ListOpenOrders(ctx, args.TokenID)
	if err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}
	return exchange.BuildOrderBook(args.TokenID, orders), nil
}

func (h *Handlers) getExchangeTrades(ctx context.Context, raw json.RawMessage, _ domain.ToolContext) (any, error) {
	var args tokenArgs
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	if err := required("token_id", args.TokenID); err != nil {
		return nil, err
	}
	limit := args.Limit
	if limit <= 0 {
		limit = defaultTradesLimit
	}
	if limit > maxTradesLimit {
		limit = maxTradesLimit
	}
	trades, err := h.ledger.ListTrades(ctx, args.TokenID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load trades: %w", err)
	}
	return map[string]any{
		"token_id": args.TokenID,
		"trades":   trades,
		"count":    len(trades),
	}, nil
}

func (h *Handlers) processMatchQueue(ctx context.Context, raw json.RawMessage, tc domain.ToolContext) (any, error) {
	var args tokenArgs
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	if err := required("token_id", args.TokenID); err != nil {
		return nil, err
	}

	h.capture(ctx, tc, domain.EventTypeMatchQueueProcessing, newID("mq"), map[string]any{
		"token_id": args.TokenID,
	}, nil)

	var (
		processed int
		run       matchRun
	)
	err := h.withToken(ctx, args.TokenID, func(ctx context.Context) error {
		items, err := h.ledger.PendingQueueItems(ctx, args.TokenID, queueBatchSize)
		if err != nil {
			return fmt.Errorf("failed to load match queue: %w", err)
		}
		if len(items) == 0 {
			return nil
		}
		ids := make([]string, len(items))
		for i, item := range items {
			ids[i] = item.ItemID
		}
		if err := h.ledger.MarkQueueItems(ctx, ids, domain.QueueStatusProcessing, h.now()); err != nil {
			return fmt.Errorf("failed to claim queue items: %w", err)
		}
		processed = len(items)

		run, err = h.runMatching(ctx, args.TokenID, queueMaxMatches)
		if err != nil {
			return err
		}
		return h.ledger.MarkQueueItems(ctx, ids, domain.QueueStatusCompleted, time.Time{})
	})
	if err != nil {
		return nil, err
	}

	if processed == 0 {
		return map[string]any{
			"token_id":              args.TokenID,
			"queue_items_processed": 0,
			"message":               "No pending items in queue",
		}, nil
	}
	return map[string]any{
		"token_id":              args.TokenID,
		"queue_items_processed": processed,
		"matches_found":         len(run.Trades) + len(run.Errors),
		"trades_executed":       len(run.Trades),
	}, nil
}
