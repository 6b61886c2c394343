package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"brightpath/internal/models"
)

// ProviderHealthRepository persists per-provider failure counters. Written
// only by workers reporting attempt outcomes.
type ProviderHealthRepository struct {
	db *gorm.DB
}

func NewProviderHealthRepository(db *gorm.DB) *ProviderHealthRepository {
	return &ProviderHealthRepository{db: db}
}

// RecordSuccess resets the consecutive-failure counter.
func (r *ProviderHealthRepository) RecordSuccess(providerName string) error {
	now := time.Now()
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := ensureProviderRow(tx, providerName); err != nil {
			return err
		}
		return tx.Model(&models.ProviderHealth{}).
			Where("provider_name = ?", providerName).
			Updates(map[string]interface{}{
				"consecutive_failures": 0,
				"last_success_at":      now,
			}).Error
	})
}

// RecordFailure advances the consecutive-failure counter.
func (r *ProviderHealthRepository) RecordFailure(providerName string) error {
	now := time.Now()
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := ensureProviderRow(tx, providerName); err != nil {
			return err
		}
		return tx.Model(&models.ProviderHealth{}).
			Where("provider_name = ?", providerName).
			Updates(map[string]interface{}{
				"consecutive_failures": gorm.Expr("consecutive_failures + 1"),
				"last_failure_at":      now,
			}).Error
	})
}

// Reset is the manual operator action that clears a degraded provider.
func (r *ProviderHealthRepository) Reset(providerName string) error {
	return r.db.Model(&models.ProviderHealth{}).
		Where("provider_name = ?", providerName).
		Update("consecutive_failures", 0).Error
}

// Find returns nil without error for a provider with no recorded history.
func (r *ProviderHealthRepository) Find(providerName string) (*models.ProviderHealth, error) {
	var health models.ProviderHealth
	err := r.db.First(&health, "provider_name = ?", providerName).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &health, nil
}

func (r *ProviderHealthRepository) FindAll() ([]models.ProviderHealth, error) {
	var records []models.ProviderHealth
	err := r.db.Order("provider_name ASC").Find(&records).Error
	return records, err
}

func ensureProviderRow(tx *gorm.DB, providerName string) error {
	var health models.ProviderHealth
	return tx.Where(models.ProviderHealth{ProviderName: providerName}).
		FirstOrCreate(&health).Error
}
