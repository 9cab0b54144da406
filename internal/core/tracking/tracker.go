// Package tracking owns the per-document status record and enforces the
// ingestion state machine on top of a compare-and-set document store.
package tracking

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/markdave123-py/Lumina/internal/core"
	"github.com/markdave123-py/Lumina/internal/models"
)

// DefaultMaxRetries bounds automatic retries per document.
const DefaultMaxRetries = 3

// Client is the only writer of document status.
type Client struct {
	store      core.DocumentStore
	maxRetries int
	logger     *zap.Logger
}

func NewClient(store core.DocumentStore, maxRetries int, logger *zap.Logger) *Client {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{store: store, maxRetries: maxRetries, logger: logger}
}

// Create inserts a new record; ErrAlreadyExists when the ID is taken.
func (c *Client) Create(ctx context.Context, doc *models.Document) error {
	if doc.Status == "" {
		doc.Status = models.StatusUploaded
	}
	return c.store.CreateDocument(ctx, doc)
}

func (c *Client) Get(ctx context.Context, id string) (*models.Document, error) {
	return c.store.GetDocumentByID(ctx, id)
}

// List returns the documents owned by userID, newest first.
func (c *Client) List(ctx context.Context, userID string) ([]models.Document, error) {
	return c.store.ListDocumentsByUser(ctx, userID)
}

// Status returns the externally visible status of a document.
func (c *Client) Status(ctx context.Context, id string) (models.StatusView, error) {
	d, err := c.store.GetDocumentByID(ctx, id)
	if err != nil {
		return models.StatusView{}, err
	}
	return d.View(), nil
}

// MaxRetries is the automatic retry budget.
func (c *Client) MaxRetries() int { return c.maxRetries }

// CanAutoRetry reports whether doc still has automatic retry budget left.
// The budget restarts at every operator retry.
func (c *Client) CanAutoRetry(doc *models.Document) bool {
	return doc.RetryCount-doc.RetryBase < c.maxRetries
}

// Unsettled returns every document a trigger could still move: never started,
// released by an operator, parked for retry, or inside a stage.
func (c *Client) Unsettled(ctx context.Context) ([]models.Document, error) {
	statuses := []models.DocumentStatus{models.StatusUploaded, models.StatusProcessing, models.StatusRetryScheduled}
	statuses = append(statuses, models.PipelineStages...)
	return c.store.ListDocumentsByStatus(ctx, statuses...)
}

// Transition moves a document along one edge of the state machine.
// It fails with ErrInvalidTransition when the edge does not exist or when the
// stored status is no longer from.
func (c *Client) Transition(ctx context.Context, id string, from, to models.DocumentStatus, detail string) (*models.Document, error) {
	if !models.CanTransition(from, to) || to == models.StatusProcessing {
		return nil, fmt.Errorf("%s -> %s: %w", from, to, core.ErrInvalidTransition)
	}

	var upd core.StatusUpdate
	switch to {
	case models.StatusFailed:
		upd.ErrorDetail = detail
		upd.FailedStage = from
	case models.StatusRetryScheduled:
		upd.ErrorDetail = detail
		upd.FailedStage = from
		upd.IncrementRetry = true
	}

	if from == models.StatusRetryScheduled {
		cur, err := c.store.GetDocumentByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if to.IsStage() && cur.FailedStage != to {
			return nil, fmt.Errorf("retry of %s must re-enter %s, not %s: %w", id, cur.FailedStage, to, core.ErrInvalidTransition)
		}
		if to == models.StatusFailed {
			upd.FailedStage = cur.FailedStage
		}
	}

	doc, err := c.store.CompareAndSetStatus(ctx, id, from, to, upd)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("status transition",
		zap.String("document_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int("retry_count", doc.RetryCount),
	)
	return doc, nil
}

// Retry is the operator edge FAILED -> PROCESSING. It clears the error detail,
// counts the attempt and restarts the automatic budget from here; it is allowed
// even when the automatic budget is spent.
func (c *Client) Retry(ctx context.Context, id string) (*models.Document, error) {
	doc, err := c.store.CompareAndSetStatus(ctx, id, models.StatusFailed, models.StatusProcessing, core.StatusUpdate{IncrementRetry: true, ResetBudget: true})
	if err != nil {
		return nil, err
	}
	c.logger.Info("operator retry", zap.String("document_id", id), zap.Int("retry_count", doc.RetryCount))
	return doc, nil
}
