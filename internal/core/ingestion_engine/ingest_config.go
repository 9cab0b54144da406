package ingestion_engine

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/markdave123-py/Lumina/internal/core"
	"github.com/markdave123-py/Lumina/internal/core/metadata"
	"github.com/markdave123-py/Lumina/internal/core/tracking"
	"github.com/markdave123-py/Lumina/internal/models"
)

const (
	DefaultBatchSize      = 16
	DefaultQueueSize      = 64
	DefaultWorkers        = 4
	DefaultProcessTimeout = 10 * time.Minute
	DefaultSweepInterval  = time.Minute
)

// IngestConfig tunes the pipeline.
//
// Chunk:          chunk size and overlap.
// BatchSize:      chunks per embedding request.
// EmbedRPS:       embedding requests per second across all workers (0 = unlimited).
// EmbedBurst:     burst allowance of the embedding limiter.
// OCRRPS:         OCR calls per second across all workers (0 = unlimited).
// OCRBackend:     name of the OCR backend used for image content; empty disables OCR.
// Backoff:        delay policy between automatic retries.
// QueueSize:      capacity of the trigger queue.
// ProcessTimeout: upper bound for one trigger, sleeps included.
// LeaseTimeout:   a document left inside a stage this long without a status write
//                 is taken over by the next trigger (default ProcessTimeout + 1m).
// SweepInterval:  how often unsettled documents are re-dispatched.
type IngestConfig struct {
	Chunk          ChunkConfig
	BatchSize      int
	EmbedRPS       float64
	EmbedBurst     int
	OCRRPS         float64
	OCRBackend     string
	Backoff        BackoffPolicy
	QueueSize      int
	ProcessTimeout time.Duration
	LeaseTimeout   time.Duration
	SweepInterval  time.Duration
}

func (c *IngestConfig) applyDefaults() {
	if c.Chunk.MaxTokens <= 0 {
		c.Chunk.MaxTokens = DefaultMaxTokens
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.EmbedBurst <= 0 {
		c.EmbedBurst = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.ProcessTimeout <= 0 {
		c.ProcessTimeout = DefaultProcessTimeout
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = c.ProcessTimeout + time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	c.Backoff.applyDefaults()
}

// TextExtractor resolves extraction strategies by content type and OCR backends by name.
type TextExtractor interface {
	ExtractNamed(ctx context.Context, data []byte, contentType, fileName string) (*core.ExtractedText, error)
	OCR(ctx context.Context, name string, data []byte, contentType string) (*core.ExtractedText, error)
}

// DocumentIngestor drives documents through the ingestion state machine:
//
// tracker:    sole writer of document status.
// db:         chunk and metadata persistence.
// obj:        object storage holding the raw bytes.
// extractor:  extraction registry.
// normalizer: metadata key library front.
// embedder:   embedding provider (Gemini).
// writers:    indexes receiving the embedded chunks.
// jobs:       bounded in-memory trigger queue.
type DocumentIngestor struct {
	tracker    *tracking.Client
	db         core.DbClient
	obj        core.ObjectClient
	extractor  TextExtractor
	normalizer *metadata.Normalizer
	embedder   core.EmbeddingProvider
	writers    []core.IndexWriter
	cfg        IngestConfig
	embedLimit *rate.Limiter
	ocrLimit   *rate.Limiter
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
	logger     *zap.Logger
	jobs       chan models.Trigger
}
