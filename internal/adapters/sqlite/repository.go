// Package sqlite persists entity snapshots in a SQLite database. Snapshots
// are stored as versioned JSON payloads keyed by (kind, id), one row per
// entity, replaced on every checkpoint.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"cryptoStalkerBot/internal/domain"
	"cryptoStalkerBot/internal/ports"
)

// Repository implements ports.SnapshotRepository using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a SQLite snapshot repository.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/stalker_bot.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory %q: %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for concurrent checkpointers from multiple engines.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at %q: %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at %q: %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite snapshot store ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS snapshots (
		kind TEXT NOT NULL,
		id TEXT NOT NULL,
		version INTEGER NOT NULL,
		payload TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (kind, id)
	);
	`
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// SaveSnapshot stores or replaces the snapshot for (kind, id).
func (r *Repository) SaveSnapshot(ctx context.Context, kind, id string, version int, payload interface{}) error {
	if kind == "" || id == "" {
		return fmt.Errorf("%w: snapshot requires a kind and an id", domain.ErrValidation)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot payload for %s/%s: %w", kind, id, err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO snapshots (kind, id, version, payload, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (kind, id) DO UPDATE SET
			version = excluded.version,
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		kind, id, version, string(data), time.Now().UTC())
	if err != nil {
		r.logger.Error(ctx, err, "Failed to save snapshot", map[string]interface{}{"kind": kind, "id": id})
		return fmt.Errorf("failed to save snapshot %s/%s: %w", kind, id, err)
	}
	return nil
}

// LoadSnapshot decodes the latest snapshot for (kind, id) into out and
// returns its stored version.
func (r *Repository) LoadSnapshot(ctx context.Context, kind, id string, out interface{}) (int, error) {
	var version int
	var payload string
	err := r.db.QueryRowContext(ctx,
		`SELECT version, payload FROM snapshots WHERE kind = ? AND id = ?`,
		kind, id).Scan(&version, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: no snapshot for %s/%s", domain.ErrNotFound, kind, id)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load snapshot %s/%s: %w", kind, id, err)
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return 0, fmt.Errorf("failed to decode snapshot payload for %s/%s: %w", kind, id, err)
	}
	return version, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}
