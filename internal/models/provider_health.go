package models

import "time"

// ProviderHealth records the recent success/failure history of one AI
// capability endpoint. Written only by workers reporting attempt outcomes.
type ProviderHealth struct {
	ProviderName        string     `gorm:"column:provider_name;primaryKey;size:60" json:"provider_name"`
	ConsecutiveFailures int        `gorm:"column:consecutive_failures;default:0" json:"consecutive_failures"`
	LastSuccessAt       *time.Time `gorm:"column:last_success_at" json:"last_success_at"`
	LastFailureAt       *time.Time `gorm:"column:last_failure_at" json:"last_failure_at"`
	UpdatedAt           time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (ProviderHealth) TableName() string {
	return "provider_health"
}
