package ingestion_engine

import (
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/markdave123-py/Lumina/internal/core"
)

const (
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 30 * time.Second
	DefaultMultiplier     = 2.0
	DefaultQuotaFactor    = 4.0
)

// BackoffPolicy computes exponential backoff with full jitter.
type BackoffPolicy struct {
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	QuotaFactor float64 // scales the base delay for ErrQuotaExceeded

	// jitter returns a value in [0, n]. Nil uses math/rand.
	jitter func(n int64) int64
}

func (b *BackoffPolicy) applyDefaults() {
	if b.Initial <= 0 {
		b.Initial = DefaultInitialBackoff
	}
	if b.Max <= 0 {
		b.Max = DefaultMaxBackoff
	}
	if b.Multiplier < 1 {
		b.Multiplier = DefaultMultiplier
	}
	if b.QuotaFactor < 1 {
		b.QuotaFactor = DefaultQuotaFactor
	}
}

// Ceiling is the upper bound of the delay before retry number attempt (0-based).
func (b BackoffPolicy) Ceiling(attempt int, cause error) time.Duration {
	b.applyDefaults()
	base := float64(b.Initial)
	if errors.Is(cause, core.ErrQuotaExceeded) {
		base *= b.QuotaFactor
	}
	d := base * math.Pow(b.Multiplier, float64(max(attempt, 0)))
	if d > float64(b.Max) || math.IsInf(d, 0) {
		return b.Max
	}
	return time.Duration(d)
}

// Delay picks a uniformly random delay in [0, Ceiling].
func (b BackoffPolicy) Delay(attempt int, cause error) time.Duration {
	ceiling := int64(b.Ceiling(attempt, cause))
	if b.jitter != nil {
		return time.Duration(b.jitter(ceiling))
	}
	return time.Duration(rand.Int64N(ceiling + 1))
}
