package ocr

import (
	"errors"
	"fmt"
)

// OCR errors. Recognition failures are soft: callers log them and fall back
// to whatever text the native tiers produced.
var (
	// ErrImageEncoding is returned when a page render cannot be encoded
	// for the recognition engine.
	ErrImageEncoding = errors.New("image encoding failed")

	// ErrRecognition is returned when the engine fails to produce a result.
	ErrRecognition = errors.New("text recognition failed")
)

// OCRError wraps errors with the failing operation and context.
type OCRError struct {
	Op      string
	Err     error
	Details string
}

// Error implements the error interface.
func (e *OCRError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("ocr: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("ocr: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *OCRError) Unwrap() error {
	return e.Err
}

// Is implements error matching for errors.Is.
func (e *OCRError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// WrapOCRError wraps an error as an OCRError if it isn't already one.
func WrapOCRError(op string, err error, details string) error {
	if err == nil {
		return nil
	}
	var oe *OCRError
	if errors.As(err, &oe) {
		return err
	}
	return &OCRError{Op: op, Err: err, Details: details}
}
