package db

import (
	"fmt"

	"github.com/apphub/backend/internal/config"
	"github.com/apphub/backend/internal/core/ports"
	"github.com/apphub/backend/internal/infrastructure/logger"
)

// OpenStateRepository picks the store named by cfg.Driver. The returned
// close func releases the underlying connection pool.
func OpenStateRepository(cfg config.DatabaseConfig, log *logger.Logger) (ports.StateRepository, func() error, error) {
	switch cfg.Driver {
	case "", "sqlite":
		repo, err := NewSQLiteStateRepository(cfg.Path, log)
		if err != nil {
			return nil, nil, err
		}
		log.Infow("state_store_opened", "driver", "sqlite", "path", cfg.Path)
		return repo, repo.Close, nil
	case "postgres":
		database, err := NewPostgresConnection(cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := RunMigrations(database); err != nil {
			Close(database)
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		log.Infow("state_store_opened", "driver", "postgres", "host", cfg.Host, "db", cfg.Name)
		return NewStateRepository(database, log), func() error { return Close(database) }, nil
	}
	return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}
