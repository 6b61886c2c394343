package models

import "time"

// SubjectUsage is a subject's analysis-quota counter for one billing month.
// Period is "YYYY-MM". Reserve operations must be a single conditional
// update so two concurrent checks cannot both pass on the last unit.
type SubjectUsage struct {
	ID           uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	SubjectID    string    `gorm:"column:subject_id;size:64;uniqueIndex:idx_subject_usage_period,priority:1" json:"subject_id"`
	Period       string    `gorm:"column:period;size:7;uniqueIndex:idx_subject_usage_period,priority:2" json:"period"`
	Used         int       `gorm:"column:used;default:0" json:"used"`
	MonthlyLimit int       `gorm:"column:monthly_limit;default:20" json:"monthly_limit"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (SubjectUsage) TableName() string {
	return "subject_usage"
}
