package ingestion_engine

import (
	"context"

	"github.com/markdave123-py/Lumina/internal/models"
)

type Ingestor interface {
	Start(ctx context.Context, numWorkers int)
	Enqueue(t models.Trigger)
	Dispatch(ctx context.Context, t models.Trigger) error
	Process(ctx context.Context, t models.Trigger) error
	Delete(ctx context.Context, id string) error
}
