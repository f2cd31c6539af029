// Package sqlite persists the entity inventory in SQLite.
package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryDSN opens a private in-memory inventory.
const MemoryDSN = ":memory:"

// DB is an inventory database.
type DB struct {
	*sql.DB
}

// Open opens the inventory at dsn. A file path gets WAL journaling, a
// busy timeout and foreign keys unless the dsn already carries query
// parameters. MemoryDSN keeps a single connection so every statement
// sees the same database.
func Open(dsn string) (*DB, error) {
	if dsn == "" {
		return nil, errors.New("open inventory: empty dsn")
	}

	conn := dsn
	if !strings.Contains(dsn, "?") {
		conn += "?_busy_timeout=5000&_foreign_keys=on"
		if dsn != MemoryDSN {
			conn += "&_journal_mode=WAL&_synchronous=NORMAL"
		}
	}

	db, err := sql.Open("sqlite3", conn)
	if err != nil {
		return nil, fmt.Errorf("open inventory %s: %w", dsn, err)
	}
	if dsn == MemoryDSN {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open inventory %s: %w", dsn, err)
	}
	return &DB{DB: db}, nil
}

// Migrate applies the embedded migrations that have not run yet, in
// file name order. Each migration runs in its own transaction.
func (db *DB) Migrate() error {
	_, err := db.Migrations()
	return err
}

// Migrations is Migrate returning the versions it applied.
func (db *DB) Migrations() ([]string, error) {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	done, err := db.appliedVersions()
	if err != nil {
		return nil, err
	}
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	slices.Sort(names)

	var applied []string
	for _, name := range names {
		version := strings.TrimSuffix(path.Base(name), ".sql")
		if done[version] {
			continue
		}
		if err := db.run(name, version); err != nil {
			return applied, err
		}
		applied = append(applied, version)
	}
	return applied, nil
}

// SchemaVersion returns the newest applied migration, or "" for a
// database that was never migrated.
func (db *DB) SchemaVersion() (string, error) {
	var version sql.NullString
	err := db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return "", nil
		}
		return "", fmt.Errorf("schema version: %w", err)
	}
	return version.String, nil
}

func (db *DB) appliedVersions() (map[string]bool, error) {
	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("query schema_migrations: %w", err)
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		done[v] = true
	}
	return done, rows.Err()
}

func (db *DB) run(name, version string) error {
	script, err := migrationsFS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", version, err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migration %s: %w", version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(script)); err != nil {
		return fmt.Errorf("migration %s: %w", version, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("record migration %s: %w", version, err)
	}
	return tx.Commit()
}
