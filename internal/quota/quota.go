package quota

import (
	"time"

	"gorm.io/gorm"

	"brightpath/internal/models"
	"brightpath/internal/retry"
)

// Service tracks each subject's monthly analysis allowance. The reserve
// path is a single conditional update so two concurrent requests can never
// both take the last unit.
type Service struct {
	db           *gorm.DB
	defaultLimit int
}

func NewService(db *gorm.DB, defaultLimit int) *Service {
	return &Service{db: db, defaultLimit: defaultLimit}
}

// CheckAndReserve consumes amount units of the subject's quota for the
// current month. On exhaustion it returns a QuotaExceededError carrying
// the numeric used/limit values.
func (s *Service) CheckAndReserve(subjectID string, amount int) error {
	period := currentPeriod()
	if err := s.ensureRow(subjectID, period); err != nil {
		return err
	}

	res := s.db.Model(&models.SubjectUsage{}).
		Where("subject_id = ? AND period = ? AND used + ? <= monthly_limit", subjectID, period, amount).
		Update("used", gorm.Expr("used + ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		used, limit, err := s.Usage(subjectID)
		if err != nil {
			return err
		}
		return &retry.QuotaExceededError{SubjectID: subjectID, Used: used, Limit: limit}
	}
	return nil
}

// Usage returns the used/limit readback for the current month.
func (s *Service) Usage(subjectID string) (used, limit int, err error) {
	period := currentPeriod()
	if err := s.ensureRow(subjectID, period); err != nil {
		return 0, 0, err
	}

	var usage models.SubjectUsage
	if err := s.db.First(&usage, "subject_id = ? AND period = ?", subjectID, period).Error; err != nil {
		return 0, 0, err
	}
	return usage.Used, usage.MonthlyLimit, nil
}

func (s *Service) ensureRow(subjectID, period string) error {
	var usage models.SubjectUsage
	err := s.db.Where(models.SubjectUsage{SubjectID: subjectID, Period: period}).
		Attrs(models.SubjectUsage{MonthlyLimit: s.defaultLimit}).
		FirstOrCreate(&usage).Error
	if err == nil {
		return nil
	}
	// A concurrent caller may have inserted the row between the lookup and
	// the insert; the unique index makes that safe to re-read.
	var check models.SubjectUsage
	if findErr := s.db.First(&check, "subject_id = ? AND period = ?", subjectID, period).Error; findErr == nil {
		return nil
	}
	return err
}

func currentPeriod() string {
	return time.Now().UTC().Format("2006-01")
}
