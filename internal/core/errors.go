package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/markdave123-py/Lumina/internal/models"
)

// Sentinel errors shared by every pipeline and retrieval component.
var (
	ErrUnsupportedFormat    = errors.New("unsupported format")
	ErrParse                = errors.New("parse error")
	ErrTransient            = errors.New("transient failure")
	ErrQuotaExceeded        = errors.New("quota exceeded")
	ErrInvalidInput         = errors.New("invalid input")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	ErrNotFound             = errors.New("not found")
	ErrAlreadyExists        = errors.New("already exists")
)

// IsRetryable reports whether err is worth another attempt with backoff.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTransient) ||
		errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, context.DeadlineExceeded)
}

// StageError attributes a failure to the pipeline stage that produced it.
type StageError struct {
	Stage models.DocumentStatus
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
