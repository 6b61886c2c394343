package retry

import "time"

// DefaultBase is the backoff base used when a policy is built without one.
const DefaultBase = 2 * time.Second

// MaxAttempts is the total attempt budget for any job.
const MaxAttempts = 3

// Decision is the outcome of a retry check: either retry after Delay or
// give up.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// GiveUp is the terminal decision.
var GiveUp = Decision{}

// Policy decides retry vs. terminal failure. It is a pure function of
// (attempt, class); identical inputs always yield identical decisions.
type Policy struct {
	Base        time.Duration
	MaxAttempts int
}

func NewPolicy(base time.Duration) Policy {
	if base <= 0 {
		base = DefaultBase
	}
	return Policy{Base: base, MaxAttempts: MaxAttempts}
}

// Decide takes the number of attempts already made (1-based, counting the
// attempt that just failed) and the failure class.
//
// Permanent errors never retry. Rate-limited and transient errors retry
// with exponential backoff doubling from base (base after the first
// failure, 2*base after the second) until the attempt budget is spent.
// Any attempt count at or beyond the budget gives up regardless of class.
func (p Policy) Decide(attempt int, class ErrorClass) Decision {
	if attempt >= p.MaxAttempts {
		return GiveUp
	}
	switch class {
	case ClassRateLimited, ClassTransient:
		return Decision{Retry: true, Delay: p.Base * (1 << (attempt - 1))}
	default:
		return GiveUp
	}
}
