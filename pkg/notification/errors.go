package notification

import (
	"errors"
	"fmt"
)

var (
	// ErrTransient marks a failure that may succeed on retry
	ErrTransient = errors.New("transient delivery failure")

	// ErrPermanent marks a failure that will not succeed on retry
	ErrPermanent = errors.New("permanent delivery failure")

	// ErrTemplateNotFound is returned when no template is registered for a notice type
	ErrTemplateNotFound = errors.New("notification template not found")
)

type classifiedError struct {
	class error
	err   error
}

func (e *classifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.class, e.err)
}

func (e *classifiedError) Unwrap() []error {
	return []error{e.class, e.err}
}

// Transient wraps err as a retryable failure
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: ErrTransient, err: err}
}

// Permanent wraps err as a failure that must not be retried
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: ErrPermanent, err: err}
}

// IsPermanent reports whether err was classified as permanent.
// Unclassified errors are treated as transient.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

var errMockFailure = errors.New("mock notifier failure")
