package admission

import (
	"errors"
	"fmt"

	"github.com/iliyamo/concert-seat-admission/internal/repository"
	"github.com/iliyamo/concert-seat-admission/internal/waitqueue"
)

// Errors surfaced by the admission engine. Store-level kinds are
// re-exported so callers only need this package to classify failures.
var (
	ErrNotFound          = repository.ErrNotFound
	ErrAlreadyQueued     = waitqueue.ErrAlreadyQueued
	ErrCapacityExceeded  = repository.ErrCapacityExceeded
	ErrInvalidRequest    = errors.New("invalid reservation request")
	ErrInvalidTransition = errors.New("seat detail is not in the required status")
	ErrNotHolder         = errors.New("seat detail is held by another user")
	ErrConflictExhausted = errors.New("reservation failed: conflict retries exhausted")
)

// ConflictExhaustedError is the terminal failure of a retried
// operation. It matches ErrConflictExhausted with errors.Is and unwraps
// to the last conflict observed.
type ConflictExhaustedError struct {
	Attempts int
	Cause    error
}

func (e *ConflictExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrConflictExhausted, e.Attempts, e.Cause)
}

func (e *ConflictExhaustedError) Unwrap() error { return e.Cause }

func (e *ConflictExhaustedError) Is(target error) bool { return target == ErrConflictExhausted }
