package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/apphub/backend/internal/core/ports"
	"github.com/apphub/backend/internal/domain"
	"github.com/apphub/backend/internal/infrastructure/logger"
	_ "modernc.org/sqlite"
)

//go:embed sqlmigrations/*.sql
var sqliteMigrations embed.FS

// SQLiteStateRepository is the single-file store used for local installs.
type SQLiteStateRepository struct {
	mu  sync.RWMutex
	db  *sql.DB
	log *logger.Logger
}

var _ ports.StateRepository = (*SQLiteStateRepository)(nil)

// NewSQLiteStateRepository opens (or creates) the database at path.
// ":memory:" gives a private in-memory database.
func NewSQLiteStateRepository(path string, log *logger.Logger) (*SQLiteStateRepository, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
	}

	database, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// every connection to :memory: is a separate database
	database.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := database.Exec("PRAGMA journal_mode=WAL"); err != nil {
			database.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
	}

	r := &SQLiteStateRepository{db: database, log: log}
	if err := r.migrate(); err != nil {
		database.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLiteStateRepository) migrate() error {
	entries, err := sqliteMigrations.ReadDir("sqlmigrations")
	if err != nil {
		return err
	}
	for _, e := range entries {
		schema, err := sqliteMigrations.ReadFile("sqlmigrations/" + e.Name())
		if err != nil {
			return err
		}
		if _, err := r.db.Exec(string(schema)); err != nil {
			return fmt.Errorf("apply migration %s: %w", e.Name(), err)
		}
	}
	return nil
}

func (r *SQLiteStateRepository) Get(ctx context.Context, key string) (*domain.StateEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var entry domain.StateEntry
	var createdAt, updatedAt string
	err := r.db.QueryRowContext(ctx,
		"SELECT key, value, category, created_at, updated_at FROM state_entries WHERE key = ?",
		key,
	).Scan(&entry.Key, &entry.Value, &entry.Category, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorw("state_repo_get_failed", "key", key, "error", err)
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	entry.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	entry.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &entry, nil
}

func (r *SQLiteStateRepository) Set(ctx context.Context, entry *domain.StateEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO state_entries (key, value, category, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			category = excluded.category,
			updated_at = excluded.updated_at`,
		entry.Key, entry.Value, entry.Category,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		r.log.Errorw("state_repo_set_failed", "key", entry.Key, "error", err)
		return fmt.Errorf("set %q: %w", entry.Key, err)
	}
	entry.UpdatedAt = now
	r.log.Debugw("state_repo_set_ok", "key", entry.Key)
	return nil
}

func (r *SQLiteStateRepository) GetByCategory(ctx context.Context, category string) ([]domain.StateEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows, err := r.db.QueryContext(ctx,
		"SELECT key, value, category, created_at, updated_at FROM state_entries WHERE category = ? ORDER BY key",
		category,
	)
	if err != nil {
		r.log.Errorw("state_repo_get_by_category_failed", "category", category, "error", err)
		return nil, err
	}
	defer rows.Close()

	var entries []domain.StateEntry
	for rows.Next() {
		var entry domain.StateEntry
		var createdAt, updatedAt string
		if err := rows.Scan(&entry.Key, &entry.Value, &entry.Category, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		entry.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *SQLiteStateRepository) Delete(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.db.ExecContext(ctx, "DELETE FROM state_entries WHERE key = ?", key); err != nil {
		r.log.Errorw("state_repo_delete_failed", "key", key, "error", err)
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

func (r *SQLiteStateRepository) Close() error {
	return r.db.Close()
}
