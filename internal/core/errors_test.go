package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/markdave123-py/Lumina/internal/models"
)

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(fmt.Errorf("embed: %w", ErrTransient)))
	assert.True(t, IsRetryable(fmt.Errorf("embed: %w", ErrQuotaExceeded)))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.False(t, IsRetryable(ErrParse))
	assert.False(t, IsRetryable(ErrUnsupportedFormat))
	assert.False(t, IsRetryable(nil))
}

func TestStageError(t *testing.T) {
	err := &StageError{Stage: models.StatusExtracting, Err: fmt.Errorf("pdf: %w", ErrParse)}

	assert.Equal(t, "EXTRACTING: pdf: parse error", err.Error())
	assert.True(t, errors.Is(err, ErrParse))

	var se *StageError
	assert.True(t, errors.As(fmt.Errorf("wrapped: %w", err), &se))
	assert.Equal(t, models.StatusExtracting, se.Stage)
}
