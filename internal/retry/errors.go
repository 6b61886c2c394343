package retry

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass buckets every pipeline failure for retry decisions.
type ErrorClass string

const (
	// ClassPermanent covers malformed input, missing source files, quota
	// exhaustion and degraded providers. Never retried.
	ClassPermanent ErrorClass = "permanent"
	// ClassRateLimited covers provider throttling (429s).
	ClassRateLimited ErrorClass = "rate_limited"
	// ClassTransient covers timeouts, transport failures and 5xx responses.
	ClassTransient ErrorClass = "transient"
)

// Failure codes surfaced to operators and dashboards. Quota, degraded and
// timeout failures must be distinguishable from generic ones.
const (
	CodeQuotaExceeded     = "quota_exceeded"
	CodeProvidersDegraded = "providers_degraded"
	CodeTimedOut          = "timed_out"
	CodeSourceRemoved     = "source_removed"
	CodeFileTooLarge      = "file_too_large"
	CodeEmptyContent      = "empty_content"
)

// Error is a classified pipeline failure.
type Error struct {
	Class   ErrorClass
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Permanent(code, message string) *Error {
	return &Error{Class: ClassPermanent, Code: code, Message: message}
}

func RateLimited(message string, err error) *Error {
	return &Error{Class: ClassRateLimited, Message: message, Err: err}
}

func Transient(message string, err error) *Error {
	return &Error{Class: ClassTransient, Message: message, Err: err}
}

// QuotaExceededError carries the numeric used/limit so callers can render
// "X/Y used" without a follow-up read.
type QuotaExceededError struct {
	SubjectID string
	Used      int
	Limit     int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("monthly analysis quota exceeded: used=%d, limit=%d", e.Used, e.Limit)
}

// Classify normalizes an arbitrary error into an ErrorClass. Classified
// errors pass through; context deadline hits are transient timeouts;
// anything else is treated as permanent, matching the queue processor's
// "all other errors are final" rule.
func Classify(err error) ErrorClass {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Class
	}
	var qerr *QuotaExceededError
	if errors.As(err, &qerr) {
		return ClassPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	return ClassPermanent
}

// Code extracts the failure code from a classified error, empty otherwise.
func Code(err error) string {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Code
	}
	var qerr *QuotaExceededError
	if errors.As(err, &qerr) {
		return CodeQuotaExceeded
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimedOut
	}
	return ""
}
