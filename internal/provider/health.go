package provider

import (
	"time"

	"brightpath/internal/models"
	"brightpath/internal/repository"
)

// Tracker decides which providers are eligible for new work based on
// their persisted failure history. A provider with too many consecutive
// failures sits out until its cooldown elapses; one success resets it.
type Tracker struct {
	repo      *repository.ProviderHealthRepository
	threshold int
	cooldown  time.Duration
}

func NewTracker(repo *repository.ProviderHealthRepository, threshold int, cooldown time.Duration) *Tracker {
	if threshold <= 0 {
		threshold = 3
	}
	return &Tracker{repo: repo, threshold: threshold, cooldown: cooldown}
}

func (t *Tracker) RecordSuccess(providerName string) error {
	return t.repo.RecordSuccess(providerName)
}

func (t *Tracker) RecordFailure(providerName string) error {
	return t.repo.RecordFailure(providerName)
}

// Reset clears a provider's failure count, the manual operator override.
func (t *Tracker) Reset(providerName string) error {
	return t.repo.Reset(providerName)
}

// IsEligible reports whether a provider may take new work. Unknown
// providers are eligible: no history means no reason to avoid them.
func (t *Tracker) IsEligible(providerName string) (bool, error) {
	health, err := t.repo.Find(providerName)
	if err != nil {
		return false, err
	}
	if health == nil || health.ConsecutiveFailures < t.threshold {
		return true, nil
	}
	if t.cooldown > 0 && health.LastFailureAt != nil &&
		time.Since(*health.LastFailureAt) >= t.cooldown {
		return true, nil
	}
	return false, nil
}

// Pick returns the first eligible provider from the given priority order,
// or "" when every candidate is degraded.
func (t *Tracker) Pick(order []string) (string, error) {
	for _, name := range order {
		ok, err := t.IsEligible(name)
		if err != nil {
			return "", err
		}
		if ok {
			return name, nil
		}
	}
	return "", nil
}

// Snapshot returns the persisted health rows for the dashboard.
func (t *Tracker) Snapshot() ([]models.ProviderHealth, error) {
	return t.repo.FindAll()
}
