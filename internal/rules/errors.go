package rules

import (
	"errors"
	"fmt"
)

// Rule loading errors. These are fatal: a run never starts with a broken
// rule set.
var (
	// ErrInvalidRule is returned for malformed rule JSON or unknown fields.
	ErrInvalidRule = errors.New("invalid rule definition")

	// ErrInvalidPattern is returned when a cue regex fails to compile.
	ErrInvalidPattern = errors.New("invalid cue pattern")

	// ErrInvalidHint is returned for malformed region hint records.
	ErrInvalidHint = errors.New("invalid region hint")
)

// RulesError wraps errors with the failing operation and context.
type RulesError struct {
	Op      string
	Err     error
	Details string
}

// Error implements the error interface.
func (e *RulesError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("rules: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("rules: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *RulesError) Unwrap() error {
	return e.Err
}

// Is implements error matching for errors.Is.
func (e *RulesError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// WrapRulesError wraps an error as a RulesError if it isn't already one.
func WrapRulesError(op string, err error, details string) error {
	if err == nil {
		return nil
	}
	var re *RulesError
	if errors.As(err, &re) {
		return err
	}
	return &RulesError{Op: op, Err: err, Details: details}
}
