package storage

import (
	"fmt"
	"io"

	"github.com/apphub/backend/internal/config"
	"github.com/apphub/backend/internal/core/ports"
	"github.com/apphub/backend/internal/infrastructure/logger"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds the result storage named by cfg.Driver.
func New(cfg config.StorageConfig, log *logger.Logger) (ports.ResultStorage, io.Closer, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocalStorage(cfg.BaseDir), nopCloser{}, nil
	case "sftp":
		if cfg.SFTP.Host == "" {
			return nil, nil, fmt.Errorf("storage: sftp driver needs storage.sftp.host")
		}
		s := NewSFTPStorage(cfg.SFTP, log)
		return s, s, nil
	}
	return nil, nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
}
