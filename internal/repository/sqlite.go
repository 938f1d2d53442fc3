// Package repository persists sessions, audit events and the contract
// ledger in SQLite.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements the session, event and ledger stores using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	locks *KeyedLock
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db, locks: NewKeyedLock()}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			participants TEXT NOT NULL,
			status TEXT NOT NULL,
			contract_id TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			reasoning TEXT,
			tool_calls TEXT,
			tool_call_id TEXT,
			sender_id TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (session_id, seq),
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			type TEXT NOT NULL,
			external_id TEXT,
			session_id TEXT,
			payload TEXT,
			metadata TEXT,
			content_hash TEXT NOT NULL,
			ts DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, ts)`,
		`CREATE TABLE IF NOT EXISTS contracts (
			contract_id TEXT PRIMARY KEY,
			session_id TEXT,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			founder_id TEXT NOT NULL,
			developer_id TEXT,
			investor_id TEXT,
			total_value_usd REAL NOT NULL,
			equity_percentage REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			milestones TEXT NOT NULL,
			signatures TEXT NOT NULL,
			created_by TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contracts_founder ON contracts(founder_id)`,
		`CREATE TABLE IF NOT EXISTS escrow_entries (
			entry_id TEXT PRIMARY KEY,
			contract_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			amount_usd REAL NOT NULL,
			user_id TEXT NOT NULL,
			milestone_id TEXT,
			payment_method TEXT,
			status TEXT NOT NULL,
			reason TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (contract_id) REFERENCES contracts(contract_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_escrow_contract ON escrow_entries(contract_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS disputes (
			dispute_id TEXT PRIMARY KEY,
			contract_id TEXT NOT NULL,
			raised_by TEXT NOT NULL,
			dispute_type TEXT NOT NULL,
			description TEXT NOT NULL,
			evidence TEXT,
			status TEXT NOT NULL,
			responses TEXT,
			resolution_type TEXT,
			outcome TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			resolved_at DATETIME,
			FOREIGN KEY (contract_id) REFERENCES contracts(contract_id)
		)`,
		`CREATE TABLE IF NOT EXISTS proposals (
			proposal_id TEXT PRIMARY KEY,
			negotiation_id TEXT NOT NULL,
			session_id TEXT,
			proposed_by TEXT NOT NULL,
			terms TEXT NOT NULL,
			rationale TEXT,
			counter INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			accepted_by TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_proposals_negotiation ON proposals(negotiation_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS exchange_orders (
			order_id TEXT PRIMARY KEY,
			token_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			side TEXT NOT NULL,
			price_sats INTEGER NOT NULL,
			amount INTEGER NOT NULL,
			filled_amount INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_token_status ON exchange_orders(token_id, status)`,
		`CREATE TABLE IF NOT EXISTS exchange_trades (
			trade_id TEXT PRIMARY KEY,
			token_id TEXT NOT NULL,
			buy_order_id TEXT NOT NULL,
			sell_order_id TEXT NOT NULL,
			buyer_id TEXT NOT NULL,
			seller_id TEXT NOT NULL,
			price_sats INTEGER NOT NULL,
			amount INTEGER NOT NULL,
			total_sats INTEGER NOT NULL,
			executed_at DATETIME NOT NULL,
			FOREIGN KEY (buy_order_id) REFERENCES exchange_orders(order_id),
			FOREIGN KEY (sell_order_id) REFERENCES exchange_orders(order_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_token ON exchange_trades(token_id, executed_at)`,
		`CREATE TABLE IF NOT EXISTS match_queue (
			item_id TEXT PRIMARY KEY,
			token_id TEXT NOT NULL,
			order_id TEXT,
			priority INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_attempt_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_match_queue_token ON match_queue(token_id, status, priority)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	// Columns added after the first release.
	if err := s.ensureColumn("messages", "reasoning", "ALTER TABLE messages ADD COLUMN reasoning TEXT"); err != nil {
		return err
	}
	return s.ensureColumn("events", "content_hash", "ALTER TABLE events ADD COLUMN content_hash TEXT NOT NULL DEFAULT ''")
}

func (s *SQLiteStore) ensureColumn(tableName, columnName, ddl string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if name == columnName {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = s.db.Exec(ddl)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// WithLock runs fn while holding the lock for key. Keys are namespaced:
// "session:<id>", "contract:<id>", "negotiation:<id>" and "token:<id>".
func (s *SQLiteStore) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return s.locks.WithLock(ctx, key, fn)
}

// withTx runs fn inside a transaction.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func marshalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalJSON(src sql.NullString, dst any) error {
	if !src.Valid || src.String == "" || src.String == "null" {
		return nil
	}
	return json.Unmarshal([]byte(src.String), dst)
}
