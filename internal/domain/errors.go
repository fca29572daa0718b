package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput signals a missing or malformed query.
	ErrInvalidInput = errors.New("invalid input")
	// ErrSearchFailure signals that the vector index could not answer a query.
	ErrSearchFailure = errors.New("search failure")
	// ErrGenerationFailure signals that the generation provider failed.
	ErrGenerationFailure = errors.New("generation failure")
	// ErrTimeout signals that a network call exceeded its bound.
	ErrTimeout = errors.New("timeout")
	// ErrInitialization signals a handle that could not be constructed at startup.
	ErrInitialization = errors.New("initialization failure")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
)

// GenerationError carries the upstream status and message of a failed generation call.
type GenerationError struct {
	Status    int
	Message   string
	Transient bool
}

func (e *GenerationError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", ErrGenerationFailure.Error(), e.Message)
	}
	return fmt.Sprintf("%s: upstream status %d: %s", ErrGenerationFailure.Error(), e.Status, e.Message)
}

func (e *GenerationError) Unwrap() error { return ErrGenerationFailure }

// NewGenerationError classifies an upstream failure. Network errors (status 0)
// and 5xx are transient; 4xx never are.
func NewGenerationError(status int, message string) *GenerationError {
	return &GenerationError{
		Status:    status,
		Message:   message,
		Transient: status == 0 || status >= 500,
	}
}
