package store

import (
	"fmt"

	"github.com/weatherwise/weather-store/internal/models"
)

// ValidationError means a field violated a range, required, or enum constraint.
// Nothing was persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// NotFoundError means the referenced record does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// StateConflictError means an update attempted a transition out of a terminal
// alert status.
type StateConflictError struct {
	ID     string
	Status models.AlertStatus
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("alert %s is %s: no transition out of a terminal status", e.ID, e.Status)
}

// ConcurrencyConflictError means a concurrent update to the same alert won the
// race. The caller may retry.
type ConcurrencyConflictError struct {
	ID string
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("alert %s was modified concurrently, retry", e.ID)
}

// StorageUnavailableError means the persistence layer could not complete the
// operation. Retryable with backoff.
type StorageUnavailableError struct {
	Err error
}

func (e *StorageUnavailableError) Error() string {
	return fmt.Sprintf("storage unavailable: %v", e.Err)
}

func (e *StorageUnavailableError) Unwrap() error {
	return e.Err
}
