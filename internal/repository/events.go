package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/b0ase/kintsugi/internal/domain"
)

// CreateEvent appends an audit event.
func (s *SQLiteStore) CreateEvent(ctx context.Context, event *domain.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, source, type, external_id, session_id, payload, metadata, content_hash, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.EventID, event.Source, event.Type, nullString(event.ExternalID), nullString(event.SessionID),
		nullString(string(event.Payload)), nullString(string(event.Metadata)), event.ContentHash, event.Ts)
	return err
}

// ListEvents retrieves a session's events in capture order, optionally
// filtered by type.
func (s *SQLiteStore) ListEvents(ctx context.Context, sessionID string, types []string, limit int) ([]domain.Event, error) {
	query := `SELECT event_id, source, type, external_id, session_id, payload, metadata, content_hash, ts FROM events WHERE session_id = ?`
	args := []interface{}{sessionID}

	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			placeholders[i] = "?"
			args = append(args, t)
		}
		query += fmt.Sprintf(" AND type IN (%s)", strings.Join(placeholders, ","))
	}

	query += ` ORDER BY ts ASC, rowid ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		var ev domain.Event
		var externalID, session, payload, metadata sql.NullString
		if err := rows.Scan(&ev.EventID, &ev.Source, &ev.Type, &externalID, &session, &payload, &metadata, &ev.ContentHash, &ev.Ts); err != nil {
			return nil, err
		}
		ev.ExternalID = externalID.String
		ev.SessionID = session.String
		if payload.Valid {
			ev.Payload = json.RawMessage(payload.String)
		}
		if metadata.Valid {
			ev.Metadata = json.RawMessage(metadata.String)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
