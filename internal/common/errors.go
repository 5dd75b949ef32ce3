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

// Common application errors
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")

	// ErrUnreadableDocument marks a corrupt, encrypted, or unsupported input
	// file. Reported per document; a batch continues past it.
	ErrUnreadableDocument = errors.New("unreadable document")

	// ErrOCRUnavailable marks a transient connection/timeout failure against
	// the OCR service. Retryable.
	ErrOCRUnavailable = errors.New("ocr service unavailable")

	// ErrAIService marks a failure of the AI parsing service. Non-fatal:
	// extraction falls back to the heuristic-only result.
	ErrAIService = errors.New("ai service error")
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
