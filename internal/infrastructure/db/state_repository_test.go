package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/apphub/backend/internal/core/ports"
	"github.com/apphub/backend/internal/domain"
	"github.com/apphub/backend/internal/infrastructure/logger"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// openGormSQLite runs the gorm repository on the pure-Go sqlite driver
// registered by modernc.org/sqlite.
func openGormSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "state.db")
	database, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open gorm sqlite: %v", err)
	}
	t.Cleanup(func() { Close(database) })
	return database
}

// openGormPostgres connects to APPHUB_TEST_POSTGRES_DSN when it is set.
func openGormPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("APPHUB_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("APPHUB_TEST_POSTGRES_DSN not set")
	}
	database, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	database.Exec("DROP TABLE IF EXISTS state_entries")
	t.Cleanup(func() {
		database.Exec("DROP TABLE IF EXISTS state_entries")
		Close(database)
	})
	return database
}

func TestStateRepository(t *testing.T) {
	backends := []struct {
		name string
		open func(*testing.T) *gorm.DB
	}{
		{"sqlite", openGormSQLite},
		{"postgres", openGormPostgres},
	}
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			database := b.open(t)
			if err := RunMigrations(database); err != nil {
				t.Fatalf("migrate: %v", err)
			}
			// migrations are idempotent
			if err := RunMigrations(database); err != nil {
				t.Fatalf("second migrate: %v", err)
			}
			exerciseStateRepository(t, NewStateRepository(database, logger.NewNop()))
		})
	}
}

func exerciseStateRepository(t *testing.T, repo ports.StateRepository) {
	ctx := context.Background()

	entry, err := repo.Get(ctx, "nope")
	if err != nil || entry != nil {
		t.Fatalf("get missing: %+v %v", entry, err)
	}

	if err := repo.Set(ctx, &domain.StateEntry{Key: "k", Value: `"a"`, Category: "settings"}); err != nil {
		t.Fatalf("first set: %v", err)
	}
	if err := repo.Set(ctx, &domain.StateEntry{Key: "k", Value: `"b"`, Category: "settings"}); err != nil {
		t.Fatalf("second set: %v", err)
	}
	entry, err = repo.Get(ctx, "k")
	if err != nil || entry == nil {
		t.Fatalf("get: %+v %v", entry, err)
	}
	if entry.Value != `"b"` {
		t.Errorf("value = %s, want \"b\"", entry.Value)
	}
	if entry.CreatedAt.IsZero() || entry.UpdatedAt.IsZero() {
		t.Errorf("timestamps not set: %+v", entry)
	}

	for _, e := range []domain.StateEntry{
		{Key: "b", Value: "1", Category: "catalog"},
		{Key: "a", Value: "2", Category: "catalog"},
	} {
		e := e
		if err := repo.Set(ctx, &e); err != nil {
			t.Fatalf("set %s: %v", e.Key, err)
		}
	}
	entries, err := repo.GetByCategory(ctx, "catalog")
	if err != nil {
		t.Fatalf("by category: %v", err)
	}
	if len(entries) != 2 || entries[0].Key != "a" || entries[1].Key != "b" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	if err := repo.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if entry, _ := repo.Get(ctx, "a"); entry != nil {
		t.Errorf("entry still present after delete")
	}
	if err := repo.Delete(ctx, "never-set"); err != nil {
		t.Errorf("delete missing key: %v", err)
	}
}
