package db

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Lumina/internal/core"
	"github.com/markdave123-py/Lumina/internal/models"
)

// runStoreContract exercises the behaviour every core.DbClient backend must share.
func runStoreContract(t *testing.T, store core.DbClient) {
	ctx := context.Background()

	newDoc := func() *models.Document {
		return &models.Document{
			ID:          uuid.NewString(),
			UserID:      "user-1",
			FileName:    "report.pdf",
			SourceURI:   "https://bucket.s3.us-east-1.amazonaws.com/report.pdf",
			ContentType: "application/pdf",
			ContentHash: "abc123",
			Status:      models.StatusUploaded,
		}
	}

	t.Run("create and get", func(t *testing.T) {
		doc := newDoc()
		require.NoError(t, store.CreateDocument(ctx, doc))
		assert.ErrorIs(t, store.CreateDocument(ctx, doc), core.ErrAlreadyExists)

		got, err := store.GetDocumentByID(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusUploaded, got.Status)
		assert.Equal(t, "abc123", got.ContentHash)

		_, err = store.GetDocumentByID(ctx, uuid.NewString())
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("compare and set", func(t *testing.T) {
		doc := newDoc()
		require.NoError(t, store.CreateDocument(ctx, doc))

		got, err := store.CompareAndSetStatus(ctx, doc.ID, models.StatusUploaded, models.StatusExtracting, core.StatusUpdate{})
		require.NoError(t, err)
		assert.Equal(t, models.StatusExtracting, got.Status)

		// second writer loses
		_, err = store.CompareAndSetStatus(ctx, doc.ID, models.StatusUploaded, models.StatusExtracting, core.StatusUpdate{})
		assert.ErrorIs(t, err, core.ErrInvalidTransition)

		got, err = store.CompareAndSetStatus(ctx, doc.ID, models.StatusExtracting, models.StatusRetryScheduled, core.StatusUpdate{
			ErrorDetail: "timeout", FailedStage: models.StatusExtracting, IncrementRetry: true,
		})
		require.NoError(t, err)
		assert.Equal(t, 1, got.RetryCount)
		assert.Equal(t, "timeout", got.ErrorDetail)
		assert.Equal(t, models.StatusExtracting, got.FailedStage)

		got, err = store.CompareAndSetStatus(ctx, doc.ID, models.StatusRetryScheduled, models.StatusExtracting, core.StatusUpdate{})
		require.NoError(t, err)
		assert.Empty(t, got.ErrorDetail)
		assert.Equal(t, 1, got.RetryCount)

		_, err = store.CompareAndSetStatus(ctx, uuid.NewString(), models.StatusUploaded, models.StatusExtracting, core.StatusUpdate{})
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("budget reset is persisted", func(t *testing.T) {
		doc := newDoc()
		require.NoError(t, store.CreateDocument(ctx, doc))
		_, err := store.CompareAndSetStatus(ctx, doc.ID, models.StatusUploaded, models.StatusFailed, core.StatusUpdate{ErrorDetail: "boom"})
		require.NoError(t, err)

		got, err := store.CompareAndSetStatus(ctx, doc.ID, models.StatusFailed, models.StatusProcessing, core.StatusUpdate{
			IncrementRetry: true, ResetBudget: true,
		})
		require.NoError(t, err)
		assert.Equal(t, 1, got.RetryCount)
		assert.Equal(t, 1, got.RetryBase)

		got, err = store.CompareAndSetStatus(ctx, doc.ID, models.StatusProcessing, models.StatusExtracting, core.StatusUpdate{})
		require.NoError(t, err)
		assert.Equal(t, 1, got.RetryBase, "base survives later writes")

		reread, err := store.GetDocumentByID(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, reread.RetryBase)
	})

	t.Run("list by status", func(t *testing.T) {
		parked := newDoc()
		require.NoError(t, store.CreateDocument(ctx, parked))
		_, err := store.CompareAndSetStatus(ctx, parked.ID, models.StatusUploaded, models.StatusExtracting, core.StatusUpdate{})
		require.NoError(t, err)
		_, err = store.CompareAndSetStatus(ctx, parked.ID, models.StatusExtracting, models.StatusRetryScheduled, core.StatusUpdate{
			FailedStage: models.StatusExtracting, IncrementRetry: true,
		})
		require.NoError(t, err)
		fresh := newDoc()
		require.NoError(t, store.CreateDocument(ctx, fresh))

		got, err := store.ListDocumentsByStatus(ctx, models.StatusRetryScheduled)
		require.NoError(t, err)
		ids := make([]string, 0, len(got))
		for _, d := range got {
			assert.Equal(t, models.StatusRetryScheduled, d.Status)
			ids = append(ids, d.ID)
		}
		assert.Contains(t, ids, parked.ID)
		assert.NotContains(t, ids, fresh.ID)

		none, err := store.ListDocumentsByStatus(ctx)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("chunks replace and cascade", func(t *testing.T) {
		doc := newDoc()
		require.NoError(t, store.CreateDocument(ctx, doc))

		chunks := []models.Chunk{
			{ID: uuid.NewString(), Ordinal: 0, Offset: 0, Length: 5, Text: "hello", TokenCount: 1},
			{ID: uuid.NewString(), Ordinal: 1, Offset: 5, Length: 6, Text: " world", TokenCount: 1},
		}
		require.NoError(t, store.ReplaceDocumentChunks(ctx, doc.ID, chunks))

		chunks[0].Embedding = []float32{0.1, 0.2}
		chunks[1].Embedding = []float32{0.3, 0.4}
		require.NoError(t, store.ReplaceDocumentChunks(ctx, doc.ID, chunks))

		got, err := store.GetChunksByDocument(ctx, doc.ID)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "hello", got[0].Text)
		assert.InDeltaSlice(t, []float32{0.3, 0.4}, got[1].Embedding, 1e-6)

		d, err := store.GetDocumentByID(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{chunks[0].ID, chunks[1].ID}, d.ChunkIDs)

		require.NoError(t, store.DeleteDocument(ctx, doc.ID))
		got, err = store.GetChunksByDocument(ctx, doc.ID)
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.ErrorIs(t, store.DeleteDocument(ctx, doc.ID), core.ErrNotFound)
	})

	t.Run("metadata", func(t *testing.T) {
		doc := newDoc()
		require.NoError(t, store.CreateDocument(ctx, doc))

		n := 3.0
		md := []models.MetadataValue{{Key: "pages", Type: models.MetadataNumber, Raw: "3", Number: &n}}
		require.NoError(t, store.UpdateDocumentMetadata(ctx, doc.ID, md))

		got, err := store.GetDocumentByID(ctx, doc.ID)
		require.NoError(t, err)
		require.Len(t, got.Metadata, 1)
		assert.Equal(t, "3", got.Metadata[0].String())
	})

	t.Run("images", func(t *testing.T) {
		img := &models.ImageAsset{
			ID:          uuid.NewString(),
			SourceURI:   "https://bucket.s3.us-east-1.amazonaws.com/dog.png",
			ContentType: "image/png",
			Status:      models.ImageUploaded,
		}
		require.NoError(t, store.CreateImage(ctx, img))

		caption := "a dog"
		img.UserCaption = &caption
		img.CombinedCaption = caption
		img.Status = models.ImageCaptioning
		require.NoError(t, store.UpdateImage(ctx, img, models.ImageUploaded))
		assert.ErrorIs(t, store.UpdateImage(ctx, img, models.ImageUploaded), core.ErrInvalidTransition)

		got, err := store.GetImageByID(ctx, img.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ImageCaptioning, got.Status)
		require.NotNil(t, got.UserCaption)
		assert.Equal(t, "a dog", *got.UserCaption)
		assert.Nil(t, got.AICaption)

		_, err = store.GetImageByID(ctx, uuid.NewString())
		assert.ErrorIs(t, err, core.ErrNotFound)
	})
}

func TestMemoryClient(t *testing.T) {
	runStoreContract(t, NewMemoryClient())
}

func TestDatabaseClient(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	client, err := NewDatabaseClient(context.Background(), DatabaseConfig{URL: url})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	runStoreContract(t, client)
}
