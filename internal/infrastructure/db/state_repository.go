package db

import (
	"context"
	"errors"

	"github.com/apphub/backend/internal/core/ports"
	"github.com/apphub/backend/internal/domain"
	"github.com/apphub/backend/internal/infrastructure/logger"
	"gorm.io/gorm"
)

type stateRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStateRepository(db *gorm.DB, log *logger.Logger) ports.StateRepository {
	return &stateRepository{db: db, log: log}
}

func (r *stateRepository) Get(ctx context.Context, key string) (*domain.StateEntry, error) {
	var entry domain.StateEntry
	if err := r.db.WithContext(ctx).Where("key = ?", key).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.log.Errorw("state_repo_get_failed", "key", key, "error", err)
		return nil, err
	}
	return &entry, nil
}

func (r *stateRepository) Set(ctx context.Context, entry *domain.StateEntry) error {
	var existing domain.StateEntry
	err := r.db.WithContext(ctx).Where("key = ?", entry.Key).First(&existing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
				r.log.Errorw("state_repo_create_failed", "key", entry.Key, "error", err)
				return err
			}
			r.log.Debugw("state_repo_create_ok", "key", entry.Key)
			return nil
		}
		r.log.Errorw("state_repo_get_for_set_failed", "key", entry.Key, "error", err)
		return err
	}
	existing.Value = entry.Value
	existing.Category = entry.Category
	if err := r.db.WithContext(ctx).Save(&existing).Error; err != nil {
		r.log.Errorw("state_repo_update_failed", "key", entry.Key, "error", err)
		return err
	}
	r.log.Debugw("state_repo_update_ok", "key", entry.Key)
	return nil
}

func (r *stateRepository) GetByCategory(ctx context.Context, category string) ([]domain.StateEntry, error) {
	var entries []domain.StateEntry
	if err := r.db.WithContext(ctx).Where("category = ?", category).Order("key").Find(&entries).Error; err != nil {
		r.log.Errorw("state_repo_get_by_category_failed", "category", category, "error", err)
		return nil, err
	}
	return entries, nil
}

func (r *stateRepository) Delete(ctx context.Context, key string) error {
	if err := r.db.WithContext(ctx).Where("key = ?", key).Delete(&domain.StateEntry{}).Error; err != nil {
		r.log.Errorw("state_repo_delete_failed", "key", key, "error", err)
		return err
	}
	r.log.Debugw("state_repo_delete_ok", "key", key)
	return nil
}
