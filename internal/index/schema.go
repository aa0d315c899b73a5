// Package index provides the SQLite-backed search index: an exact-match
// documents table, a full-text table (FTS5 when the driver supports it) and a
// denormalized tag-count table. The index is a projection of the workspace
// metadata plus file contents and can always be rebuilt from them.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	DriverCGO    = "sqlite3" // github.com/mattn/go-sqlite3
	DriverPureGo = "sqlite"  // modernc.org/sqlite
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	path     TEXT PRIMARY KEY,
	id       TEXT NOT NULL,
	title    TEXT NOT NULL DEFAULT '',
	mode     TEXT NOT NULL DEFAULT 'markdown',
	tags     TEXT NOT NULL DEFAULT '[]',
	created  TEXT NOT NULL DEFAULT '',
	modified TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_documents_modified ON documents(modified);

CREATE TABLE IF NOT EXISTS tag_counts (
	tag   TEXT PRIMARY KEY,
	count INTEGER NOT NULL
);
`

const ftsSchemaSQL = `
CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
	path UNINDEXED,
	title,
	content,
	tags,
	tokenize = 'unicode61 remove_diacritics 2'
);
`

// Without FTS5 the same columns live in a plain table searched with LIKE.
const textSchemaSQL = `
CREATE TABLE IF NOT EXISTS documents_text (
	path    TEXT PRIMARY KEY,
	title   TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	tags    TEXT NOT NULL DEFAULT ''
);
`

// DB wraps a sql.DB with index-specific operations.
type DB struct {
	conn   *sql.DB
	driver string
	useFTS bool
}

// Open opens (or creates) the index database at path with the given driver
// and applies the schema.
func Open(driver, path string) (*DB, error) {
	dsn, err := dataSource(driver, path)
	if err != nil {
		return nil, err
	}
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	// One connection keeps transactions and readers strictly ordered.
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	db := &DB{conn: conn, driver: driver}
	if err := db.CreateSchema(context.Background()); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

func dataSource(driver, path string) (string, error) {
	switch driver {
	case DriverCGO:
		return path + "?_journal_mode=WAL&_busy_timeout=5000", nil
	case DriverPureGo:
		return path + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)", nil
	}
	return "", fmt.Errorf("index: unsupported driver %q", driver)
}

// CreateSchema creates the index tables. It is idempotent.
func (db *DB) CreateSchema(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, coreSchemaSQL); err != nil {
		return fmt.Errorf("index: apply core schema: %w", err)
	}
	db.useFTS = db.probeFTS5(ctx)
	if db.useFTS {
		if _, err := db.conn.ExecContext(ctx, ftsSchemaSQL); err != nil {
			return fmt.Errorf("index: apply fts schema: %w", err)
		}
		return nil
	}
	if _, err := db.conn.ExecContext(ctx, textSchemaSQL); err != nil {
		return fmt.Errorf("index: apply text schema: %w", err)
	}
	return nil
}

// probeFTS5 reports whether the driver was built with FTS5.
func (db *DB) probeFTS5(ctx context.Context) bool {
	_, err := db.conn.ExecContext(ctx, `CREATE VIRTUAL TABLE IF NOT EXISTS temp.fts5_probe USING fts5(x)`)
	if err != nil {
		return false
	}
	_, _ = db.conn.ExecContext(ctx, `DROP TABLE IF EXISTS temp.fts5_probe`)
	return true
}

// FullText reports whether ranked FTS5 search is in use.
func (db *DB) FullText() bool { return db.useFTS }

// Driver returns the database/sql driver name.
func (db *DB) Driver() string { return db.driver }

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) textTable() string {
	if db.useFTS {
		return "documents_fts"
	}
	return "documents_text"
}

// escapeLike escapes LIKE wildcards; pair with ESCAPE '\'.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
