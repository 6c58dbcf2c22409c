package mission

import (
	"errors"
	"fmt"
)

// Sentinel errors for the mission failure taxonomy. Workers wrap these with
// context; callers match with errors.Is.
var (
	ErrIdentityBroken   = errors.New("egress identity changed mid-mission")
	ErrMappingRequired  = errors.New("no blueprint for domain and vision fallback declined")
	ErrCaptchaFailure   = errors.New("captcha solver exhausted or absent")
	ErrLowConfidence    = errors.New("vision grounding below confidence threshold")
	ErrTimeout          = errors.New("mission wall-clock budget exceeded")
	ErrPoisonedResult   = errors.New("extracted fields failed entropy check")
	ErrQueueUnavailable = errors.New("mission queue unavailable")
	ErrTrustGateFailed  = errors.New("fingerprint trust gate failed")

	// ErrNotFound is returned by stores when no record exists for a key.
	ErrNotFound = errors.New("not found")
	// ErrQueueEmpty is returned by Dequeue when the wait timed out.
	ErrQueueEmpty = errors.New("queue empty")
	// ErrResultExpired is returned by AwaitResult after the retention window.
	ErrResultExpired = errors.New("result expired or never published")
)

// Failure pairs a trauma code with its underlying error so mission-level
// failures stay matchable while carrying a human-readable reason.
type Failure struct {
	Code TraumaCode
	Err  error
}

// NewFailure builds a Failure wrapping err.
func NewFailure(code TraumaCode, err error) *Failure {
	return &Failure{Code: code, Err: err}
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return string(f.Code)
	}
	return fmt.Sprintf("%s: %v", f.Code, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// FailureCode extracts the trauma code from err, if it carries one.
func FailureCode(err error) (TraumaCode, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f.Code, true
	}
	return "", false
}
