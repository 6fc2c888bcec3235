// Package audit persists a trail of routing decisions: which tool was
// called, how it was classified, where it executed, and how it ended.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"deskpilot/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.AuditLogger using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS routes (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		tool        TEXT NOT NULL,
		risk        TEXT,
		route       TEXT,
		client_id   TEXT,
		command_id  TEXT,
		outcome     TEXT,
		details     TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_routes_time ON routes(created_at);
	CREATE INDEX IF NOT EXISTS idx_routes_tool ON routes(tool);
	`

	_, err := s.db.Exec(schema)
	return err
}

// LogRoute records one routing decision.
func (s *SQLiteStore) LogRoute(ctx context.Context, entry domain.RouteAudit) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO routes (tool, risk, route, client_id, command_id, outcome, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Tool, entry.Risk, entry.Route, entry.ClientID, entry.CommandID,
		entry.Outcome, entry.Details, entry.CreatedAt,
	)
	return err
}

// Recent returns the newest entries, most recent first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]domain.RouteAudit, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tool, risk, route, client_id, command_id, outcome, details, created_at
		 FROM routes ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.RouteAudit
	for rows.Next() {
		var e domain.RouteAudit
		var clientID, commandID, details sql.NullString
		if err := rows.Scan(&e.ID, &e.Tool, &e.Risk, &e.Route,
			&clientID, &commandID, &e.Outcome, &details, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ClientID = clientID.String
		e.CommandID = commandID.String
		e.Details = details.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
