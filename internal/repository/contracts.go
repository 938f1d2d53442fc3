package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/b0ase/kintsugi/internal/domain"
)

const contractColumns = `contract_id, session_id, title, description, founder_id, developer_id, investor_id,
	total_value_usd, equity_percentage, status, milestones, signatures, created_by, created_at, updated_at`

// CreateContract inserts a new contract.
func (s *SQLiteStore) CreateContract(ctx context.Context, c *domain.Contract) error {
	return createContract(ctx, s.db, c)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func createContract(ctx context.Context, db execer, c *domain.Contract) error {
	milestones, signatures, err := encodeContractLists(c)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO contracts (`+contractColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ContractID, nullString(c.SessionID), c.Title, c.Description, c.FounderID, nullString(c.DeveloperID), nullString(c.InvestorID),
		c.TotalValueUSD, c.EquityPercentage, c.Status, milestones, signatures, nullString(c.CreatedBy), c.CreatedAt, c.UpdatedAt)
	return err
}

// UpdateContract overwrites the mutable fields of a contract.
func (s *SQLiteStore) UpdateContract(ctx context.Context, c *domain.Contract) error {
	return updateContract(ctx, s.db, c)
}

func updateContract(ctx context.Context, db execer, c *domain.Contract) error {
	milestones, signatures, err := encodeContractLists(c)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx,
		`UPDATE contracts SET developer_id = ?, investor_id = ?, status = ?, milestones = ?, signatures = ?, updated_at = ?
		WHERE contract_id = ?`,
		nullString(c.DeveloperID), nullString(c.InvestorID), c.Status, milestones, signatures, c.UpdatedAt, c.ContractID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("contract %s: %w", c.ContractID, ErrNotFound)
	}
	return nil
}

func encodeContractLists(c *domain.Contract) (string, string, error) {
	milestones := c.Milestones
	if milestones == nil {
		milestones = []domain.Milestone{}
	}
	signatures := c.Signatures
	if signatures == nil {
		signatures = []domain.Signature{}
	}
	m, err := marshalJSON(milestones)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode milestones: %w", err)
	}
	sg, err := marshalJSON(signatures)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode signatures: %w", err)
	}
	return m, sg, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContract(row rowScanner) (*domain.Contract, error) {
	var c domain.Contract
	var sessionID, developerID, investorID, createdBy, milestones, signatures sql.NullString
	if err := row.Scan(&c.ContractID, &sessionID, &c.Title, &c.Description, &c.FounderID, &developerID, &investorID,
		&c.TotalValueUSD, &c.EquityPercentage, &c.Status, &milestones, &signatures, &createdBy, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.SessionID = sessionID.String
	c.DeveloperID = developerID.String
	c.InvestorID = investorID.String
	c.CreatedBy = createdBy.String
	if err := unmarshalJSON(milestones, &c.Milestones); err != nil {
		return nil, fmt.Errorf("failed to decode milestones: %w", err)
	}
	if err := unmarshalJSON(signatures, &c.Signatures); err != nil {
		return nil, fmt.Errorf("failed to decode signatures: %w", err)
	}
	return &c, nil
}

// GetContract retrieves a contract by ID. It returns nil when the contract
// does not exist.
func (s *SQLiteStore) GetContract(ctx context.Context, contractID string) (*domain.Contract, error) {
	c, err := scanContract(s.db.QueryRowContext(ctx,
		`SELECT `+contractColumns+` FROM contracts WHERE contract_id = ?`, contractID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// ListContracts returns the contracts a user is party to, newest first.
func (s *SQLiteStore) ListContracts(ctx context.Context, filter domain.ContractFilter) ([]domain.Contract, error) {
	query := `SELECT ` + contractColumns + ` FROM contracts WHERE `
	var args []any
	switch filter.Role {
	case string(domain.RoleFounder):
		query += `founder_id = ?`
		args = append(args, filter.UserID)
	case string(domain.RoleDeveloper):
		query += `developer_id = ?`
		args = append(args, filter.UserID)
	case string(domain.RoleInvestor):
		query += `investor_id = ?`
		args = append(args, filter.UserID)
	default:
		query += `(founder_id = ? OR developer_id = ? OR investor_id = ?)`
		args = append(args, filter.UserID, filter.UserID, filter.UserID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contracts := []domain.Contract{}
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, *c)
	}
	return contracts, rows.Err()
}
