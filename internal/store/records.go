package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/felixgeelhaar/aarii/internal/errdefs"
)

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*Record, error) {
	var (
		r        Record
		metaJSON string
	)
	if err := sc.Scan(&r.ID, &r.SessionID, &r.Text, &metaJSON, &r.CreatedAt); err != nil {
		return nil, err
	}
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &r.Meta); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata of record %d: %w", r.ID, err)
		}
	}
	if r.Meta == nil {
		r.Meta = map[string]any{}
	}
	return &r, nil
}

// Insert appends a record and returns its id. It is a single transaction.
func (s *Store) Insert(ctx context.Context, sessionID, text string, meta map[string]any) (int64, error) {
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `INSERT INTO memories (session_id, text, meta, created_at) VALUES (?, ?, ?, ?) RETURNING id`
	var id int64
	if err := s.db.QueryRowContext(ctx, s.q(query), sessionID, text, string(metaJSON), time.Now().UTC()).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert record: %w", err)
	}
	return id, nil
}

// Get returns the record with id or an error wrapping errdefs.ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (*Record, error) {
	query := `SELECT id, session_id, text, meta, created_at FROM memories WHERE id = ?`
	r, err := scanRecord(s.db.QueryRowContext(ctx, s.q(query), id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errdefs.NotFound("record", id)
		}
		return nil, err
	}
	return r, nil
}

// ListBySession returns a session's records oldest first.
func (s *Store) ListBySession(ctx context.Context, sessionID string) ([]*Record, error) {
	query := `SELECT id, session_id, text, meta, created_at FROM memories WHERE session_id = ? ORDER BY id ASC`
	return s.queryRecords(ctx, s.q(query), sessionID)
}

// ListRecentBySession returns at most limit of a session's newest records,
// still ordered oldest first.
func (s *Store) ListRecentBySession(ctx context.Context, sessionID string, limit int) ([]*Record, error) {
	if limit <= 0 {
		return []*Record{}, nil
	}
	query := `SELECT id, session_id, text, meta, created_at FROM memories WHERE session_id = ? ORDER BY id DESC LIMIT ?`
	records, err := s.queryRecords(ctx, s.q(query), sessionID, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// CountRecords returns the number of records in the log.
func (s *Store) CountRecords(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n)
	return n, err
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []*Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
