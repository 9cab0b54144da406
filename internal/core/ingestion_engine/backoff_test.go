package ingestion_engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/markdave123-py/Lumina/internal/core"
)

func TestBackoffCeiling(t *testing.T) {
	var b BackoffPolicy

	assert.Equal(t, time.Second, b.Ceiling(0, core.ErrTransient))
	assert.Equal(t, 2*time.Second, b.Ceiling(1, core.ErrTransient))
	assert.Equal(t, 16*time.Second, b.Ceiling(4, core.ErrTransient))
	assert.Equal(t, 30*time.Second, b.Ceiling(5, core.ErrTransient))
	assert.Equal(t, 30*time.Second, b.Ceiling(500, core.ErrTransient))

	quota := fmt.Errorf("embed: %w", core.ErrQuotaExceeded)
	assert.Equal(t, 4*time.Second, b.Ceiling(0, quota))
	assert.Equal(t, 8*time.Second, b.Ceiling(1, quota))
}

func TestBackoffDelayFullJitter(t *testing.T) {
	b := BackoffPolicy{Initial: 100 * time.Millisecond, Max: time.Second}
	for attempt := 0; attempt < 6; attempt++ {
		ceiling := b.Ceiling(attempt, core.ErrTransient)
		for n := 0; n < 50; n++ {
			d := b.Delay(attempt, core.ErrTransient)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, ceiling)
		}
	}

	b.jitter = func(int64) int64 { return 0 }
	assert.Zero(t, b.Delay(3, core.ErrTransient))
}
