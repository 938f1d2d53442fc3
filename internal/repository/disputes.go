package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/b0ase/kintsugi/internal/domain"
)

// CreateDispute inserts a dispute and moves its contract to disputed.
func (s *SQLiteStore) CreateDispute(ctx context.Context, d *domain.Dispute, c *domain.Contract) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := writeDispute(ctx, tx, d, true); err != nil {
			return err
		}
		return updateContract(ctx, tx, c)
	})
}

// UpdateDispute saves responses and status changes of a dispute.
func (s *SQLiteStore) UpdateDispute(ctx context.Context, d *domain.Dispute) error {
	return writeDispute(ctx, s.db, d, false)
}

// ResolveDispute saves the resolved dispute, the contract and an optional
// refund entry in one transaction.
func (s *SQLiteStore) ResolveDispute(ctx context.Context, d *domain.Dispute, c *domain.Contract, refund *domain.EscrowEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := writeDispute(ctx, tx, d, false); err != nil {
			return err
		}
		if refund != nil {
			if err := createEscrowEntry(ctx, tx, refund); err != nil {
				return fmt.Errorf("failed to record refund: %w", err)
			}
		}
		return updateContract(ctx, tx, c)
	})
}

func writeDispute(ctx context.Context, db execer, d *domain.Dispute, insert bool) error {
	evidence, err := marshalJSON(d.Evidence)
	if err != nil {
		return fmt.Errorf("failed to encode evidence: %w", err)
	}
	responses, err := marshalJSON(d.Responses)
	if err != nil {
		return fmt.Errorf("failed to encode responses: %w", err)
	}
	outcome, err := marshalJSON(d.Outcome)
	if err != nil {
		return fmt.Errorf("failed to encode outcome: %w", err)
	}
	var resolvedAt sql.NullTime
	if d.ResolvedAt != nil {
		resolvedAt = sql.NullTime{Time: *d.ResolvedAt, Valid: true}
	}

	if insert {
		_, err = db.ExecContext(ctx,
			`INSERT INTO disputes (dispute_id, contract_id, raised_by, dispute_type, description, evidence, status, responses, resolution_type, outcome, created_at, resolved_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.DisputeID, d.ContractID, d.RaisedBy, d.DisputeType, d.Description, evidence, d.Status, responses,
			nullString(d.ResolutionType), outcome, d.CreatedAt, resolvedAt)
		return err
	}
	_, err = db.ExecContext(ctx,
		`UPDATE disputes SET status = ?, responses = ?, resolution_type = ?, outcome = ?, resolved_at = ? WHERE dispute_id = ?`,
		d.Status, responses, nullString(d.ResolutionType), outcome, resolvedAt, d.DisputeID)
	return err
}

// GetDispute retrieves a dispute by ID. It returns nil when the dispute does
// not exist.
func (s *SQLiteStore) GetDispute(ctx context.Context, disputeID string) (*domain.Dispute, error) {
	var d domain.Dispute
	var evidence, responses, resolutionType, outcome sql.NullString
	var resolvedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT dispute_id, contract_id, raised_by, dispute_type, description, evidence, status, responses, resolution_type, outcome, created_at, resolved_at
		FROM disputes WHERE dispute_id = ?`, disputeID).Scan(
		&d.DisputeID, &d.ContractID, &d.RaisedBy, &d.DisputeType, &d.Description, &evidence, &d.Status,
		&responses, &resolutionType, &outcome, &d.CreatedAt, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(evidence, &d.Evidence); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(responses, &d.Responses); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(outcome, &d.Outcome); err != nil {
		return nil, err
	}
	d.ResolutionType = resolutionType.String
	if resolvedAt.Valid {
		d.ResolvedAt = &resolvedAt.Time
	}
	return &d, nil
}
