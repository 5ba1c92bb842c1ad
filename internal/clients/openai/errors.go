package openai

import (
	"errors"
	"fmt"
)

// ErrorCode classifies completion failures so callers can pick a strategy:
// transient errors were already retried internally, a context-limit error
// should never be retried with the same payload, and validation errors mean
// the model kept producing output that does not match the requested schema.
type ErrorCode string

const (
	ErrCodeContextLimit ErrorCode = "context_limit"
	ErrCodeTransient    ErrorCode = "transient"
	ErrCodeValidation   ErrorCode = "validation"
	ErrCodeUnknown      ErrorCode = "unknown"
)

type CompletionError struct {
	Code ErrorCode
	Err  error
}

func (e *CompletionError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("completion failed (%s): %v", e.Code, e.Err)
}

func (e *CompletionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func completionErr(code ErrorCode, err error) *CompletionError {
	return &CompletionError{Code: code, Err: err}
}

// IsContextLimit reports whether err is a context-window-exceeded failure.
func IsContextLimit(err error) bool {
	var ce *CompletionError
	if errors.As(err, &ce) {
		return ce.Code == ErrCodeContextLimit
	}
	return false
}
