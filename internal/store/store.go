package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.nhat.io/otelsql"
)

// Store is the relational side of the memory subsystem: the append-only
// record log, the slot mapping and the key/value configuration table.
type Store struct {
	db      *sql.DB
	dialect dialect
}

// Open picks the engine from dsn: postgres:// and postgresql:// URLs use
// Postgres, anything else is treated as a SQLite file path.
func Open(dsn string) (*Store, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return NewPostgresStore(dsn)
	}
	return NewSQLiteStore(dsn)
}

func NewSQLiteStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	d := sqliteDialect()
	db, err := sql.Open(d.driver, dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; the memory manager serializes index writes anyway.
	db.SetMaxOpenConns(1)

	return newStore(db, d)
}

func NewPostgresStore(dsn string) (*Store, error) {
	d := postgresDialect()
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return newStore(db, d)
}

func newStore(db *sql.DB, d dialect) (*Store, error) {
	if err := otelsql.RecordStats(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to instrument database: %w", err)
	}

	s := &Store{db: db, dialect: d}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	for _, query := range s.dialect.schema {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

// Engine returns "sqlite" or "postgres".
func (s *Store) Engine() string {
	return s.dialect.name
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) q(query string) string {
	return s.dialect.rebind(query)
}

// Configuration

func (s *Store) SetConfig(key, value string) error {
	query := `INSERT INTO configuration (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	_, err := s.db.Exec(s.q(query), key, value)
	return err
}

// GetConfig returns "" for keys that were never set.
func (s *Store) GetConfig(key string) (string, error) {
	row := s.db.QueryRow(s.q(`SELECT value FROM configuration WHERE key = ?`), key)
	var value sql.NullString
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return value.String, nil
}

// ListConfig returns every key with the given prefix.
func (s *Store) ListConfig(prefix string) (map[string]string, error) {
	rows, err := s.db.Query(s.q(`SELECT key, value FROM configuration WHERE key LIKE ? ORDER BY key`), prefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var (
			k string
			v sql.NullString
		)
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v.String
	}
	return out, rows.Err()
}
