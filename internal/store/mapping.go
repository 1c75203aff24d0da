package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/felixgeelhaar/aarii/internal/errdefs"
)

// Bind records that slot holds the vector of recordID.
func (s *Store) Bind(ctx context.Context, slot, recordID int64, sessionID string) error {
	return s.BindWith(ctx, slot, recordID, sessionID, nil)
}

// BindWith inserts the mapping and runs persist before committing. If
// persist fails the mapping is rolled back, so a committed mapping always has
// a persisted vector behind it.
//
// A slot or record that is already bound yields *errdefs.ConflictError; a
// record that does not exist yields an error wrapping errdefs.ErrNotFound.
func (s *Store) BindWith(ctx context.Context, slot, recordID int64, sessionID string, persist func() error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin bind: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO memory_mapping (slot, memory_id, session_id, created_at) VALUES (?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, s.q(query), slot, recordID, sessionID, time.Now().UTC()); err != nil {
		switch {
		case s.dialect.isUnique(err):
			return &errdefs.ConflictError{Slot: slot, RecordID: recordID, Err: err}
		case s.dialect.isForeignKey(err):
			return errdefs.NotFound("record", recordID)
		}
		return fmt.Errorf("failed to bind slot %d: %w", slot, err)
	}

	if persist != nil {
		if err := persist(); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bind: %w", err)
	}
	return nil
}

// ResolveSlot returns the record bound to slot.
func (s *Store) ResolveSlot(ctx context.Context, slot int64) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.q(`SELECT memory_id FROM memory_mapping WHERE slot = ?`), slot).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, errdefs.NotFound("slot", slot)
		}
		return 0, err
	}
	return id, nil
}

// ResolveRecord returns the slot bound to recordID.
func (s *Store) ResolveRecord(ctx context.Context, recordID int64) (int64, error) {
	var slot int64
	err := s.db.QueryRowContext(ctx, s.q(`SELECT slot FROM memory_mapping WHERE memory_id = ?`), recordID).Scan(&slot)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, errdefs.NotFound("mapping for record", recordID)
		}
		return 0, err
	}
	return slot, nil
}

// Mappings returns every mapping ordered by slot.
func (s *Store) Mappings(ctx context.Context) ([]Mapping, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT slot, memory_id, session_id, created_at FROM memory_mapping ORDER BY slot ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Mapping
	for rows.Next() {
		var m Mapping
		if err := rows.Scan(&m.Slot, &m.RecordID, &m.SessionID, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SlotStats returns the highest bound slot (-1 if none) and the number of
// mappings.
func (s *Store) SlotStats(ctx context.Context) (maxSlot, count int64, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(slot), -1), COUNT(*) FROM memory_mapping`).Scan(&maxSlot, &count)
	return maxSlot, count, err
}

// OrphanedRecords returns records that never got a mapping, i.e. writes that
// failed after the record was inserted.
func (s *Store) OrphanedRecords(ctx context.Context) ([]*Record, error) {
	query := `SELECT m.id, m.session_id, m.text, m.meta, m.created_at
		FROM memories m
		LEFT JOIN memory_mapping mp ON mp.memory_id = m.id
		WHERE mp.id IS NULL
		ORDER BY m.id ASC`
	return s.queryRecords(ctx, query)
}
