package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/b0ase/kintsugi/internal/domain"
)

// CreateProposal supersedes the open proposals of the negotiation and
// inserts p.
func (s *SQLiteStore) CreateProposal(ctx context.Context, p *domain.Proposal) error {
	terms, err := marshalJSON(p.Terms)
	if err != nil {
		return fmt.Errorf("failed to encode terms: %w", err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE proposals SET status = ? WHERE negotiation_id = ? AND status IN (?, ?)`,
			domain.ProposalStatusSuperseded, p.NegotiationID,
			domain.ProposalStatusPending, domain.ProposalStatusCounterProposed); err != nil {
			return fmt.Errorf("failed to supersede proposals: %w", err)
		}
		counter := 0
		if p.Counter {
			counter = 1
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO proposals (proposal_id, negotiation_id, session_id, proposed_by, terms, rationale, counter, status, accepted_by, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ProposalID, p.NegotiationID, nullString(p.SessionID), p.ProposedBy, terms, nullString(p.Rationale),
			counter, p.Status, nullString(p.AcceptedBy), p.CreatedAt)
		return err
	})
}

// OpenProposal returns the proposal currently awaiting an answer in a
// negotiation, or nil.
func (s *SQLiteStore) OpenProposal(ctx context.Context, negotiationID string) (*domain.Proposal, error) {
	var p domain.Proposal
	var sessionID, rationale, acceptedBy sql.NullString
	var terms string
	var counter int
	err := s.db.QueryRowContext(ctx,
		`SELECT proposal_id, negotiation_id, session_id, proposed_by, terms, rationale, counter, status, accepted_by, created_at
		FROM proposals WHERE negotiation_id = ? AND status IN (?, ?)
		ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		negotiationID, domain.ProposalStatusPending, domain.ProposalStatusCounterProposed).Scan(
		&p.ProposalID, &p.NegotiationID, &sessionID, &p.ProposedBy, &terms, &rationale, &counter, &p.Status, &acceptedBy, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(sql.NullString{String: terms, Valid: true}, &p.Terms); err != nil {
		return nil, fmt.Errorf("failed to decode terms: %w", err)
	}
	p.SessionID = sessionID.String
	p.Rationale = rationale.String
	p.AcceptedBy = acceptedBy.String
	p.Counter = counter == 1
	return &p, nil
}

// AcceptProposal marks a proposal accepted.
func (s *SQLiteStore) AcceptProposal(ctx context.Context, proposalID, accepterID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE proposals SET status = ?, accepted_by = ? WHERE proposal_id = ?`,
		domain.ProposalStatusAccepted, accepterID, proposalID)
	return err
}
