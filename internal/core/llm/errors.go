package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/markdave123-py/Lumina/internal/core"
)

// classify maps a Gemini client error onto the pipeline's error taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, core.ErrTransient, err)
	}

	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return fmt.Errorf("%s: %w: %w", op, core.ErrInvalidInput, err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return fmt.Errorf("%s: %w: %w", op, core.ErrQuotaExceeded, err)
		case apiErr.Code >= 500:
			return fmt.Errorf("%s: %w: %w", op, core.ErrTransient, err)
		case apiErr.Code >= 400:
			return fmt.Errorf("%s: %w: %w", op, core.ErrInvalidInput, err)
		}
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.ResourceExhausted:
			return fmt.Errorf("%s: %w: %w", op, core.ErrQuotaExceeded, err)
		case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.Internal:
			return fmt.Errorf("%s: %w: %w", op, core.ErrTransient, err)
		case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
			return fmt.Errorf("%s: %w: %w", op, core.ErrInvalidInput, err)
		}
	}

	// unknown failures from a remote model are treated as transient
	return fmt.Errorf("%s: %w: %w", op, core.ErrTransient, err)
}
