package extraction

import (
	"context"
	"errors"
	"fmt"

	"github.com/markdave123-py/Lumina/internal/core"
)

// classify maps a converter failure onto the pipeline's error taxonomy.
func classify(ctx context.Context, name string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", name, core.ErrTransient, err)
	}
	return fmt.Errorf("%s: %w: %v", name, core.ErrParse, err)
}

var errInvalidUTF8 = errors.New("text is not valid utf-8")
