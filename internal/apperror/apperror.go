package apperror

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed marks structurally invalid requests: empty code,
	// oversized code, bad limit values.
	ErrMalformed = errors.New("malformed request")

	// ErrUnsupportedLanguage marks a language id with no registered adapter.
	// Kept distinct from ErrMalformed so callers can offer alternatives.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrSecurity marks code, args, or env rejected by the validator.
	ErrSecurity = errors.New("security violation")

	// ErrNotInitialized marks calls made before Initialize or after Dispose.
	ErrNotInitialized = errors.New("engine not initialized")

	// ErrInfrastructure marks engine-side faults unrelated to the user's
	// code, e.g. the container backend failing to create an instance.
	ErrInfrastructure = errors.New("infrastructure failure")
)

type AppError struct {
	Err      error  // sentinel identifying the kind
	Message  string // Human-readable error message
	Field    string // Optional: field causing the error
	Category string // Optional: violated denylist category (security errors)
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func Malformed(field, message string) *AppError {
	return &AppError{
		Err:     ErrMalformed,
		Message: message,
		Field:   field,
	}
}

func UnsupportedLanguage(id string) *AppError {
	return &AppError{
		Err:     ErrUnsupportedLanguage,
		Message: fmt.Sprintf("language %q is not supported", id),
	}
}

// SecurityViolation names the denylist category that matched, so callers can
// report more than a bare rejection.
func SecurityViolation(category, message string) *AppError {
	return &AppError{
		Err:      ErrSecurity,
		Message:  message,
		Category: category,
	}
}

func NotInitialized(message string) *AppError {
	return &AppError{
		Err:     ErrNotInitialized,
		Message: message,
	}
}

func Infrastructure(message string, cause error) *AppError {
	if cause != nil {
		message = fmt.Sprintf("%s: %v", message, cause)
	}
	return &AppError{
		Err:     ErrInfrastructure,
		Message: message,
	}
}
