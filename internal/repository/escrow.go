package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/b0ase/kintsugi/internal/domain"
)

// CreateEscrowEntry appends an escrow movement.
func (s *SQLiteStore) CreateEscrowEntry(ctx context.Context, entry *domain.EscrowEntry) error {
	return createEscrowEntry(ctx, s.db, entry)
}

func createEscrowEntry(ctx context.Context, db execer, e *domain.EscrowEntry) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO escrow_entries (entry_id, contract_id, kind, amount_usd, user_id, milestone_id, payment_method, status, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.EntryID, e.ContractID, e.Kind, e.AmountUSD, e.UserID, nullString(e.MilestoneID), nullString(e.PaymentMethod),
		e.Status, nullString(e.Reason), e.CreatedAt)
	return err
}

// ListEscrowEntries returns a contract's escrow movements in order.
func (s *SQLiteStore) ListEscrowEntries(ctx context.Context, contractID string) ([]domain.EscrowEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_id, contract_id, kind, amount_usd, user_id, milestone_id, payment_method, status, reason, created_at
		FROM escrow_entries WHERE contract_id = ? ORDER BY created_at ASC, rowid ASC`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []domain.EscrowEntry{}
	for rows.Next() {
		var e domain.EscrowEntry
		var milestoneID, method, reason sql.NullString
		if err := rows.Scan(&e.EntryID, &e.ContractID, &e.Kind, &e.AmountUSD, &e.UserID, &milestoneID, &method, &e.Status, &reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.MilestoneID = milestoneID.String
		e.PaymentMethod = method.String
		e.Reason = reason.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// EscrowBalance sums completed escrow movements. Pending refund requests do
// not reduce the balance.
func (s *SQLiteStore) EscrowBalance(ctx context.Context, contractID string) (domain.EscrowBalance, error) {
	balance := domain.EscrowBalance{ContractID: contractID}
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, COALESCE(SUM(amount_usd), 0) FROM escrow_entries
		WHERE contract_id = ? AND status = ? GROUP BY kind`, contractID, domain.EscrowStatusCompleted)
	if err != nil {
		return balance, fmt.Errorf("failed to sum escrow: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind domain.EscrowKind
		var total float64
		if err := rows.Scan(&kind, &total); err != nil {
			return balance, err
		}
		switch kind {
		case domain.EscrowKindFund:
			balance.TotalFunded = total
		case domain.EscrowKindRelease:
			balance.TotalReleased = total
		case domain.EscrowKindRefund:
			balance.TotalRefunded = total
		}
	}
	balance.BalanceUSD = balance.TotalFunded - balance.TotalReleased - balance.TotalRefunded
	return balance, rows.Err()
}

// ReleaseMilestone records a payout and the updated contract in one
// transaction.
func (s *SQLiteStore) ReleaseMilestone(ctx context.Context, c *domain.Contract, entry *domain.EscrowEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := createEscrowEntry(ctx, tx, entry); err != nil {
			return fmt.Errorf("failed to record release: %w", err)
		}
		return updateContract(ctx, tx, c)
	})
}
