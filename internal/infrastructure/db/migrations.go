package db

import (
	"github.com/apphub/backend/internal/domain"
	"gorm.io/gorm"
)

func RunMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(&domain.StateEntry{}); err != nil {
		return err
	}
	return createCustomIndexes(db)
}

func createCustomIndexes(db *gorm.DB) error {
	return db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_state_entries_category_key
		ON state_entries (category, key)
	`).Error
}
