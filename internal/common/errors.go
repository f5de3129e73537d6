package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Failure taxonomy for the extraction/batch layers. Everything a per-item
// unit of work can hit is wrapped in one of these so callers can branch
// with errors.Is.
var (
	// ErrExtractionFailed: text extraction exhausted all paths, OCR included.
	ErrExtractionFailed = errors.New("text extraction failed")
	// ErrParserCrashed: a customer parser raised unexpectedly; recovered by
	// falling back to the generic parser for that one document.
	ErrParserCrashed = errors.New("parser crashed")
	// ErrDuplicateRejected: advisory, the parsed dedup key already exists.
	ErrDuplicateRejected = errors.New("duplicate payment advice")
	// ErrDuplicatePersist: hard failure at commit time (unique constraint).
	ErrDuplicatePersist = errors.New("duplicate key at persist")
	// ErrTimeoutExceeded: a per-item unit of work ran past its deadline.
	ErrTimeoutExceeded = errors.New("processing timeout exceeded")
	// ErrNoFailedItems: reprocessing was requested with nothing to retry.
	ErrNoFailedItems = errors.New("no failed items to reprocess")
	// ErrUnknownCustomer: strict dispatch found no registered parser.
	ErrUnknownCustomer = errors.New("no parser registered for customer")

	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
