package ports

import (
	"context"

	"github.com/apphub/backend/internal/domain"
)

// StateRepository is the durable key/value layer. Get returns nil, nil for
// a missing key.
type StateRepository interface {
	Get(ctx context.Context, key string) (*domain.StateEntry, error)
	Set(ctx context.Context, entry *domain.StateEntry) error
	GetByCategory(ctx context.Context, category string) ([]domain.StateEntry, error)
	Delete(ctx context.Context, key string) error
}
