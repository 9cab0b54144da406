package tracking

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Lumina/internal/core"
	db "github.com/markdave123-py/Lumina/internal/core/database"
	"github.com/markdave123-py/Lumina/internal/models"
)

func newTracked(t *testing.T) (*Client, string) {
	t.Helper()
	c := NewClient(db.NewMemoryClient(), 0, nil)
	doc := &models.Document{ID: "doc-1", SourceURI: "s3://b/k", ContentType: "text/plain", ContentHash: "h"}
	require.NoError(t, c.Create(context.Background(), doc))
	return c, doc.ID
}

func TestTransition_HappyPath(t *testing.T) {
	ctx := context.Background()
	c, id := newTracked(t)

	from := models.StatusUploaded
	for _, to := range append(models.PipelineStages, models.StatusIndexed) {
		_, err := c.Transition(ctx, id, from, to, "")
		require.NoErrorf(t, err, "%s -> %s", from, to)
		from = to
	}

	view, err := c.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusIndexed, view.Status)

	// terminal
	_, err = c.Transition(ctx, id, models.StatusIndexed, models.StatusExtracting, "")
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
}

func TestTransition_RejectsSkippedStage(t *testing.T) {
	c, id := newTracked(t)
	_, err := c.Transition(context.Background(), id, models.StatusUploaded, models.StatusChunking, "")
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
}

func TestTransition_RetryScheduledReentersSameStage(t *testing.T) {
	ctx := context.Background()
	c, id := newTracked(t)

	_, err := c.Transition(ctx, id, models.StatusUploaded, models.StatusExtracting, "")
	require.NoError(t, err)
	doc, err := c.Transition(ctx, id, models.StatusExtracting, models.StatusRetryScheduled, "timeout")
	require.NoError(t, err)
	assert.Equal(t, 1, doc.RetryCount)
	assert.Equal(t, models.StatusExtracting, doc.FailedStage)

	_, err = c.Transition(ctx, id, models.StatusRetryScheduled, models.StatusChunking, "")
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	doc, err = c.Transition(ctx, id, models.StatusRetryScheduled, models.StatusExtracting, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusExtracting, doc.Status)
	assert.Empty(t, doc.ErrorDetail)
}

func TestFailedAndOperatorRetry(t *testing.T) {
	ctx := context.Background()
	c, id := newTracked(t)

	_, err := c.Transition(ctx, id, models.StatusUploaded, models.StatusExtracting, "")
	require.NoError(t, err)
	doc, err := c.Transition(ctx, id, models.StatusExtracting, models.StatusFailed, "EXTRACTING: parse error")
	require.NoError(t, err)
	assert.Equal(t, models.StatusExtracting, doc.FailedStage)

	view, err := c.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "EXTRACTING: parse error", view.ErrorDetail)

	// FAILED only leaves through Retry
	_, err = c.Transition(ctx, id, models.StatusFailed, models.StatusExtracting, "")
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
	_, err = c.Transition(ctx, id, models.StatusFailed, models.StatusProcessing, "")
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	doc, err = c.Retry(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, doc.Status)
	assert.Empty(t, doc.ErrorDetail)
	assert.Equal(t, 1, doc.RetryCount)
	assert.Equal(t, 1, doc.RetryBase)

	_, err = c.Retry(ctx, id)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
}

func TestTransition_ConcurrentWritersOneWins(t *testing.T) {
	ctx := context.Background()
	c, id := newTracked(t)

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Transition(ctx, id, models.StatusUploaded, models.StatusExtracting, ""); err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, core.ErrInvalidTransition)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestCanAutoRetry(t *testing.T) {
	c := NewClient(db.NewMemoryClient(), 2, nil)
	assert.True(t, c.CanAutoRetry(&models.Document{RetryCount: 1}))
	assert.False(t, c.CanAutoRetry(&models.Document{RetryCount: 2}))
	assert.True(t, c.CanAutoRetry(&models.Document{RetryCount: 5, RetryBase: 4}))
	assert.Equal(t, 2, c.MaxRetries())
}

func TestStatus_NotFound(t *testing.T) {
	c := NewClient(db.NewMemoryClient(), 0, nil)
	_, err := c.Status(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	c := NewClient(db.NewMemoryClient(), 0, nil)
	require.NoError(t, c.Create(ctx, &models.Document{ID: "a", UserID: "user-1"}))
	require.NoError(t, c.Create(ctx, &models.Document{ID: "b", UserID: "user-2"}))

	docs, err := c.List(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, models.StatusUploaded, docs[0].Status)
}

func TestUnsettled(t *testing.T) {
	ctx := context.Background()
	c := NewClient(db.NewMemoryClient(), 0, nil)
	for _, id := range []string{"uploaded", "running", "done"} {
		require.NoError(t, c.Create(ctx, &models.Document{ID: id}))
	}
	_, err := c.Transition(ctx, "running", models.StatusUploaded, models.StatusExtracting, "")
	require.NoError(t, err)
	_, err = c.Transition(ctx, "done", models.StatusUploaded, models.StatusFailed, "boom")
	require.NoError(t, err)

	docs, err := c.Unsettled(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	assert.ElementsMatch(t, []string{"uploaded", "running"}, ids)
}
