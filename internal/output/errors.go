package output

import (
	"errors"
	"fmt"
)

// ErrSaveFailed is returned when a split document cannot be written.
var ErrSaveFailed = errors.New("document save failed")

// OutputError wraps errors with the failing operation and context.
type OutputError struct {
	Op      string
	Err     error
	Details string
}

// Error implements the error interface.
func (e *OutputError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("output: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("output: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *OutputError) Unwrap() error {
	return e.Err
}

// Is implements error matching for errors.Is.
func (e *OutputError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// WrapOutputError wraps an error as an OutputError if it isn't already one.
func WrapOutputError(op string, err error, details string) error {
	if err == nil {
		return nil
	}
	var oe *OutputError
	if errors.As(err, &oe) {
		return err
	}
	return &OutputError{Op: op, Err: err, Details: details}
}
