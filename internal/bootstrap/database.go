package bootstrap

import (
	"fmt"

	"gorm.io/gorm"

	"brightpath/internal/models"
)

// Migrate ensures all pipeline tables exist.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}
	return nil
}

func allModels() []interface{} {
	return []interface{}{
		&models.Job{},
		&models.Document{},
		&models.AnalysisResult{},
		&models.Report{},
		&models.ProviderHealth{},
		&models.SubjectUsage{},
	}
}
