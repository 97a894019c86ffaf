package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mercator-hq/conduit/pkg/providers"
	"mercator-hq/conduit/pkg/usage"
)

// SQLiteConfig contains configuration for the SQLite storage backend.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections.
	// Default: 4
	MaxOpenConns int

	// WALMode enables write-ahead logging.
	// Default: true
	WALMode bool

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration for path.
func DefaultSQLiteConfig(path string) *SQLiteConfig {
	return &SQLiteConfig{
		Path:         path,
		MaxOpenConns: 4,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteStorage implements usage.Store on SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger
}

// NewSQLiteStorage opens (creating if needed) a usage database.
func NewSQLiteStorage(config *SQLiteConfig) (*SQLiteStorage, error) {
	if config == nil || config.Path == "" {
		return nil, usage.NewStorageError("sqlite", "open", fmt.Errorf("database path is required"))
	}
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = 4
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5 * time.Second
	}

	logger := slog.Default().With("component", "usage.storage.sqlite")

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, usage.NewStorageError("sqlite", "open", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)

	s := &SQLiteStorage{db: db, config: config, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("usage storage initialized", "path", config.Path, "wal_mode", config.WALMode)
	return s, nil
}

func (s *SQLiteStorage) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return usage.NewStorageError("sqlite", "enable_wal", err)
		}
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", s.config.BusyTimeout.Milliseconds())); err != nil {
		return usage.NewStorageError("sqlite", "set_busy_timeout", err)
	}
	if _, err := s.db.Exec(Schema); err != nil {
		return usage.NewStorageError("sqlite", "create_schema", err)
	}
	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return usage.NewStorageError("sqlite", "insert_schema_version", err)
	}

	var version int
	if err := s.db.QueryRow(GetSchemaVersion).Scan(&version); err != nil {
		return usage.NewStorageError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return usage.NewStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}
	return nil
}

// Save inserts events in one transaction, ignoring ids already stored.
func (s *SQLiteStorage) Save(ctx context.Context, events []usage.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return usage.NewStorageError("sqlite", "begin", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO usage_events (
			id, timestamp, provider, model,
			prompt_tokens, completion_tokens, total_tokens, estimated_cost,
			success, latency_ms, context_included, error_class
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return usage.NewStorageError("sqlite", "prepare_save", err)
	}
	defer stmt.Close()

	for _, e := range events {
		var cost, errorClass interface{}
		if e.EstimatedCostUSD != nil {
			cost = *e.EstimatedCostUSD
		}
		if e.ErrorClass != "" {
			errorClass = string(e.ErrorClass)
		}
		_, err := stmt.ExecContext(ctx,
			e.ID, e.Timestamp.UnixNano(), e.ProviderID, e.ModelID,
			e.PromptTokens, e.CompletionTokens, e.TotalTokens, cost,
			e.Success, e.LatencyMs, e.ContextIncluded, errorClass,
		)
		if err != nil {
			return usage.NewStorageError("sqlite", "save", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return usage.NewStorageError("sqlite", "commit", err)
	}
	return nil
}

// Load returns every stored event ordered by timestamp.
func (s *SQLiteStorage) Load(ctx context.Context) ([]usage.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, provider, model,
			prompt_tokens, completion_tokens, total_tokens, estimated_cost,
			success, latency_ms, context_included, error_class
		FROM usage_events
		ORDER BY timestamp, id
	`)
	if err != nil {
		return nil, usage.NewStorageError("sqlite", "load", err)
	}
	defer rows.Close()

	var events []usage.Event
	for rows.Next() {
		var (
			e          usage.Event
			ts         int64
			cost       sql.NullFloat64
			errorClass sql.NullString
		)
		err := rows.Scan(
			&e.ID, &ts, &e.ProviderID, &e.ModelID,
			&e.PromptTokens, &e.CompletionTokens, &e.TotalTokens, &cost,
			&e.Success, &e.LatencyMs, &e.ContextIncluded, &errorClass,
		)
		if err != nil {
			return nil, usage.NewStorageError("sqlite", "scan", err)
		}
		e.Timestamp = time.Unix(0, ts)
		if cost.Valid {
			v := cost.Float64
			e.EstimatedCostUSD = &v
		}
		if errorClass.Valid {
			e.ErrorClass = providers.ErrorClass(errorClass.String)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, usage.NewStorageError("sqlite", "load", err)
	}
	return events, nil
}

// DeleteBefore removes events older than cutoff.
func (s *SQLiteStorage) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM usage_events WHERE timestamp < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, usage.NewStorageError("sqlite", "delete", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, usage.NewStorageError("sqlite", "delete", err)
	}
	return n, nil
}

// Count returns the number of stored events.
func (s *SQLiteStorage) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM usage_events`).Scan(&n); err != nil {
		return 0, usage.NewStorageError("sqlite", "count", err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	if err := s.db.Close(); err != nil {
		return usage.NewStorageError("sqlite", "close", err)
	}
	s.logger.Debug("usage storage closed")
	return nil
}

var _ usage.Store = (*SQLiteStorage)(nil)
