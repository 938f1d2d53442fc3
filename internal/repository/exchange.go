package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/b0ase/kintsugi/internal/domain"
)

const orderColumns = `order_id, token_id, user_id, side, price_sats, amount, filled_amount, status, created_at`

// CreateOrder places an order and enqueues a match request for its token.
func (s *SQLiteStore) CreateOrder(ctx context.Context, o *domain.Order, priority int) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO exchange_orders (`+orderColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			o.OrderID, o.TokenID, o.UserID, o.Side, o.PriceSats, o.Amount, o.FilledAmount, o.Status, o.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO match_queue (item_id, token_id, order_id, priority, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			"mq_"+uuid.New().String(), o.TokenID, o.OrderID, priority, domain.QueueStatusPending, o.CreatedAt)
		return err
	})
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	if err := row.Scan(&o.OrderID, &o.TokenID, &o.UserID, &o.Side, &o.PriceSats, &o.Amount, &o.FilledAmount, &o.Status, &o.CreatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

// GetOrder retrieves an order by ID. It returns nil when the order does not
// exist.
func (s *SQLiteStore) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM exchange_orders WHERE order_id = ?`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return o, err
}

// ListOpenOrders returns the open and partially filled orders of a token.
func (s *SQLiteStore) ListOpenOrders(ctx context.Context, tokenID string) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM exchange_orders WHERE token_id = ? AND status IN (?, ?) ORDER BY created_at ASC`,
		tokenID, domain.OrderStatusOpen, domain.OrderStatusPartial)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := []domain.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// RecordTrade stores a trade together with the post-fill state of both
// orders.
func (s *SQLiteStore) RecordTrade(ctx context.Context, trade *domain.Trade, buy, sell *domain.Order) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, o := range []*domain.Order{buy, sell} {
			if _, err := tx.ExecContext(ctx,
				`UPDATE exchange_orders SET filled_amount = ?, status = ? WHERE order_id = ?`,
				o.FilledAmount, o.Status, o.OrderID); err != nil {
				return fmt.Errorf("failed to update order %s: %w", o.OrderID, err)
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO exchange_trades (trade_id, token_id, buy_order_id, sell_order_id, buyer_id, seller_id, price_sats, amount, total_sats, executed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			trade.TradeID, trade.TokenID, trade.BuyOrderID, trade.SellOrderID, trade.BuyerID, trade.SellerID,
			trade.PriceSats, trade.Amount, trade.TotalSats, trade.ExecutedAt)
		return err
	})
}

// ListTrades returns the most recent trades of a token.
func (s *SQLiteStore) ListTrades(ctx context.Context, tokenID string, limit int) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT trade_id, token_id, buy_order_id, sell_order_id, buyer_id, seller_id, price_sats, amount, total_sats, executed_at
		FROM exchange_trades WHERE token_id = ? ORDER BY executed_at DESC, rowid DESC LIMIT ?`, tokenID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trades := []domain.Trade{}
	for rows.Next() {
		var t domain.Trade
		if err := rows.Scan(&t.TradeID, &t.TokenID, &t.BuyOrderID, &t.SellOrderID, &t.BuyerID, &t.SellerID,
			&t.PriceSats, &t.Amount, &t.TotalSats, &t.ExecutedAt); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// PendingQueueItems returns pending match requests for a token, highest
// priority first, then oldest first.
func (s *SQLiteStore) PendingQueueItems(ctx context.Context, tokenID string, limit int) ([]domain.MatchQueueItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id, token_id, order_id, priority, status, created_at, last_attempt_at
		FROM match_queue WHERE token_id = ? AND status = ?
		ORDER BY priority DESC, created_at ASC, rowid ASC LIMIT ?`,
		tokenID, domain.QueueStatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []domain.MatchQueueItem{}
	for rows.Next() {
		var item domain.MatchQueueItem
		var orderID sql.NullString
		var lastAttempt sql.NullTime
		if err := rows.Scan(&item.ItemID, &item.TokenID, &orderID, &item.Priority, &item.Status, &item.CreatedAt, &lastAttempt); err != nil {
			return nil, err
		}
		item.OrderID = orderID.String
		if lastAttempt.Valid {
			item.LastAttemptAt = &lastAttempt.Time
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkQueueItems sets the status of queue items. A non-zero attemptAt is
// recorded as the last attempt time.
func (s *SQLiteStore) MarkQueueItems(ctx context.Context, itemIDs []string, status domain.QueueStatus, attemptAt time.Time) error {
	if len(itemIDs) == 0 {
		return nil
	}
	placeholders := make([]string, len(itemIDs))
	args := []any{status}
	query := `UPDATE match_queue SET status = ?`
	if !attemptAt.IsZero() {
		query += `, last_attempt_at = ?`
		args = append(args, attemptAt)
	}
	for i, id := range itemIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}
	query += fmt.Sprintf(" WHERE item_id IN (%s)", strings.Join(placeholders, ","))
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}
