package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"go.nhat.io/otelsql"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// dialect captures the differences between the supported SQL engines.
type dialect struct {
	name         string
	driver       string
	schema       []string
	positional   bool // $1, $2 ... instead of ?
	isUnique     func(error) bool
	isForeignKey func(error) bool
}

var (
	sqliteDriver   string
	postgresDriver string
)

func init() {
	var err error
	sqliteDriver, err = otelsql.Register(
		"sqlite",
		otelsql.TraceQueryWithoutArgs(),
		otelsql.TraceRowsClose(),
		otelsql.TraceRowsAffected(),
		otelsql.WithSystem(semconv.DBSystemSqlite),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to register sqlite driver with otel: %v", err))
	}

	postgresDriver, err = otelsql.Register(
		"postgres",
		otelsql.TraceQueryWithoutArgs(),
		otelsql.TraceRowsClose(),
		otelsql.TraceRowsAffected(),
		otelsql.WithSystem(semconv.DBSystemPostgreSQL),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to register postgres driver with otel: %v", err))
	}
}

func sqliteDialect() dialect {
	return dialect{
		name:   "sqlite",
		driver: sqliteDriver,
		schema: []string{
			`CREATE TABLE IF NOT EXISTS memories (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL,
				text TEXT NOT NULL,
				meta TEXT NOT NULL DEFAULT '{}',
				created_at DATETIME NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_memories_session ON memories(session_id, id);`,
			`CREATE TABLE IF NOT EXISTS memory_mapping (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				slot INTEGER NOT NULL UNIQUE,
				memory_id INTEGER NOT NULL UNIQUE REFERENCES memories(id),
				session_id TEXT NOT NULL,
				created_at DATETIME NOT NULL
			);`,
			`CREATE TABLE IF NOT EXISTS configuration (
				key TEXT PRIMARY KEY,
				value TEXT
			);`,
		},
		isUnique: func(err error) bool {
			var se *sqlite.Error
			if !errors.As(err, &se) {
				return false
			}
			return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
		},
		isForeignKey: func(err error) bool {
			var se *sqlite.Error
			return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
		},
	}
}

func postgresDialect() dialect {
	return dialect{
		name:       "postgres",
		driver:     postgresDriver,
		positional: true,
		schema: []string{
			`CREATE TABLE IF NOT EXISTS memories (
				id BIGSERIAL PRIMARY KEY,
				session_id TEXT NOT NULL,
				text TEXT NOT NULL,
				meta TEXT NOT NULL DEFAULT '{}',
				created_at TIMESTAMPTZ NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_memories_session ON memories(session_id, id);`,
			`CREATE TABLE IF NOT EXISTS memory_mapping (
				id BIGSERIAL PRIMARY KEY,
				slot BIGINT NOT NULL UNIQUE,
				memory_id BIGINT NOT NULL UNIQUE REFERENCES memories(id),
				session_id TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL
			);`,
			`CREATE TABLE IF NOT EXISTS configuration (
				key TEXT PRIMARY KEY,
				value TEXT
			);`,
		},
		isUnique: func(err error) bool {
			var pe *pq.Error
			return errors.As(err, &pe) && pe.Code == "23505"
		},
		isForeignKey: func(err error) bool {
			var pe *pq.Error
			return errors.As(err, &pe) && pe.Code == "23503"
		},
	}
}

// rebind rewrites ? placeholders for engines that use numbered parameters.
func (d dialect) rebind(query string) string {
	if !d.positional {
		return query
	}
	var (
		b strings.Builder
		n int
	)
	b.Grow(len(query) + 8)
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
