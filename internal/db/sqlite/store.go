// Package sqlite provides SQLite database operations for mnemo.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	_ "modernc.org/sqlite" // registers the "sqlite" driver; FTS5 is compiled in
)

// StoreConfig holds database configuration.
type StoreConfig struct {
	Path     string // Path to SQLite database file, or ":memory:"
	MaxConns int    // Maximum open connections (default: 1)
	WALMode  bool   // Enable write-ahead logging
}

// Store wraps the process-wide database handle.
// Every statement commits on its own; only schema rebuilds use explicit transactions.
type Store struct {
	db     *sql.DB
	stmts  map[string]*sql.Stmt
	stmtMu sync.RWMutex
}

// NewStore opens the database, applies pragmas and runs all schema migrations.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}

	dsn := "file:" + cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if cfg.WALMode {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := NewSchemaManager(db).Run(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	log.Debug().Str("path", cfg.Path).Int("maxConns", maxConns).Msg("SQLite store opened")

	return newStoreFromDB(db), nil
}

func newStoreFromDB(db *sql.DB) *Store {
	return &Store{
		db:    db,
		stmts: make(map[string]*sql.Stmt),
	}
}

// GetStmt returns a cached prepared statement, preparing it on first use.
func (s *Store) GetStmt(query string) (*sql.Stmt, error) {
	s.stmtMu.RLock()
	stmt, ok := s.stmts[query]
	s.stmtMu.RUnlock()
	if ok {
		return stmt, nil
	}

	s.stmtMu.Lock()
	defer s.stmtMu.Unlock()

	if stmt, ok := s.stmts[query]; ok {
		return stmt, nil
	}

	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, err
	}
	s.stmts[query] = stmt
	return stmt, nil
}

// ExecContext executes a constant query through the statement cache.
func (s *Store) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	stmt, err := s.GetStmt(query)
	if err != nil {
		return nil, err
	}
	return stmt.ExecContext(ctx, args...)
}

// QueryContext runs a constant query through the statement cache.
func (s *Store) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	stmt, err := s.GetStmt(query)
	if err != nil {
		return nil, err
	}
	return stmt.QueryContext(ctx, args...)
}

// QueryRowContext runs a constant single-row query through the statement cache.
// Preparation errors surface from Scan.
func (s *Store) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	stmt, err := s.GetStmt(query)
	if err != nil {
		return s.db.QueryRowContext(ctx, query, args...)
	}
	return stmt.QueryRowContext(ctx, args...)
}

// Ping verifies the database connection is alive.
func (s *Store) Ping() error {
	return s.db.Ping()
}

// DB returns the underlying *sql.DB for dynamic queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases cached statements and the database handle.
func (s *Store) Close() error {
	s.stmtMu.Lock()
	for q, stmt := range s.stmts {
		_ = stmt.Close()
		delete(s.stmts, q)
	}
	s.stmtMu.Unlock()
	return s.db.Close()
}
