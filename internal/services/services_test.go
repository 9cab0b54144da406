package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Lumina/internal/core"
	db "github.com/markdave123-py/Lumina/internal/core/database"
	objectclient "github.com/markdave123-py/Lumina/internal/core/object-client"
	"github.com/markdave123-py/Lumina/internal/core/tracking"
	"github.com/markdave123-py/Lumina/internal/models"
)

type recordingSink struct {
	mu          sync.Mutex
	triggers    []models.Trigger
	dispatchErr error
}

func (s *recordingSink) Dispatch(_ context.Context, t models.Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dispatchErr != nil {
		return s.dispatchErr
	}
	s.triggers = append(s.triggers, t)
	return nil
}

type fakeRemover struct{ deleted []string }

func (r *fakeRemover) Delete(_ context.Context, id string) error {
	r.deleted = append(r.deleted, id)
	return nil
}

type fakeEmbedder struct {
	texts    []string
	embedErr error
}

func (e *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	if e.embedErr != nil {
		return nil, e.embedErr
	}
	e.texts = append(e.texts, texts...)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type fakeImageIndex struct {
	upserts   map[string]*models.ImageAsset
	upsertErr error
}

func (f *fakeImageIndex) UpsertImage(_ context.Context, img *models.ImageAsset, _ []float32) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	if f.upserts == nil {
		f.upserts = map[string]*models.ImageAsset{}
	}
	cp := *img
	f.upserts[img.ID] = &cp
	return nil
}

func (f *fakeImageIndex) DeleteImage(_ context.Context, id string) error {
	delete(f.upserts, id)
	return nil
}

type fakeCaptioner struct{ caption string }

func (c fakeCaptioner) Caption(context.Context, []byte, string) (string, error) {
	return c.caption, nil
}

func strPtr(s string) *string { return &s }

func newDocumentService(t *testing.T) (*DocumentService, *db.MemoryClient, *recordingSink, *fakeRemover) {
	t.Helper()
	store := db.NewMemoryClient()
	sink := &recordingSink{}
	remover := &fakeRemover{}
	svc := NewDocumentService(tracking.NewClient(store, 3, nil), objectclient.NewMemoryObjectClient(), "lumina-docs", sink, remover, nil)
	return svc, store, sink, remover
}

func TestDocumentService_Upload(t *testing.T) {
	ctx := context.Background()
	svc, store, sink, _ := newDocumentService(t)

	doc, err := svc.Upload(ctx, "user-1", "../My Report.txt", "text/plain", []byte("hello world"))
	require.NoError(t, err)

	assert.Equal(t, models.StatusUploaded, doc.Status)
	assert.Equal(t, "My_Report.txt", doc.FileName)
	assert.Equal(t, "s3://lumina-docs/user-1/"+doc.ID+"/My_Report.txt", doc.SourceURI)
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", doc.ContentHash)

	stored, err := store.GetDocumentByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ContentHash, stored.ContentHash)

	require.Len(t, sink.triggers, 1)
	assert.Equal(t, models.Trigger{
		DocumentID:  doc.ID,
		SourceURI:   doc.SourceURI,
		ContentType: "text/plain",
		ContentHash: doc.ContentHash,
	}, sink.triggers[0])
}

func TestDocumentService_UploadRejectsEmpty(t *testing.T) {
	svc, _, sink, _ := newDocumentService(t)
	_, err := svc.Upload(context.Background(), "user-1", "a.txt", "text/plain", nil)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	assert.Empty(t, sink.triggers)
}

func TestDocumentService_UploadDispatchFailure(t *testing.T) {
	svc, _, sink, _ := newDocumentService(t)
	sink.dispatchErr = errors.New("nats down")
	_, err := svc.Upload(context.Background(), "user-1", "a.txt", "text/plain", []byte("x"))
	assert.ErrorContains(t, err, "nats down")
}

func TestDocumentService_StatusHidesOtherUsers(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newDocumentService(t)
	doc, err := svc.Upload(ctx, "user-1", "a.txt", "text/plain", []byte("x"))
	require.NoError(t, err)

	view, err := svc.Status(ctx, "user-1", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUploaded, view.Status)

	_, err = svc.Status(ctx, "user-2", doc.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = svc.Status(ctx, "user-1", "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestDocumentService_Retry(t *testing.T) {
	ctx := context.Background()
	svc, store, sink, _ := newDocumentService(t)
	doc, err := svc.Upload(ctx, "user-1", "a.txt", "text/plain", []byte("x"))
	require.NoError(t, err)

	_, err = svc.Retry(ctx, "user-1", doc.ID)
	assert.ErrorIs(t, err, core.ErrInvalidTransition, "only FAILED documents can be retried")

	_, err = store.CompareAndSetStatus(ctx, doc.ID, models.StatusUploaded, models.StatusFailed, core.StatusUpdate{ErrorDetail: "EXTRACTING: parse error"})
	require.NoError(t, err)

	view, err := svc.Retry(ctx, "user-1", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, view.Status)
	assert.Equal(t, 1, view.RetryCount)
	assert.Empty(t, view.ErrorDetail)
	assert.Len(t, sink.triggers, 2)
}

func TestDocumentService_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	svc, _, _, remover := newDocumentService(t)

	docs, err := svc.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.NotNil(t, docs)
	assert.Empty(t, docs)

	doc, err := svc.Upload(ctx, "user-1", "a.txt", "text/plain", []byte("x"))
	require.NoError(t, err)
	docs, err = svc.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	assert.ErrorIs(t, svc.Delete(ctx, "user-2", doc.ID), core.ErrNotFound)
	require.NoError(t, svc.Delete(ctx, "user-1", doc.ID))
	assert.Equal(t, []string{doc.ID}, remover.deleted)
}

func newImageService(t *testing.T) (*ImageService, *db.MemoryClient, *fakeEmbedder, *fakeImageIndex) {
	t.Helper()
	store := db.NewMemoryClient()
	emb := &fakeEmbedder{}
	idx := &fakeImageIndex{}
	svc := NewImageService(store, objectclient.NewMemoryObjectClient(), "lumina-images", emb, idx, nil)
	return svc, store, emb, idx
}

func TestImageService_CaptionCombination(t *testing.T) {
	ctx := context.Background()
	svc, store, emb, idx := newImageService(t)

	img, err := svc.Upload(ctx, "user-1", "dog.png", "image/png", []byte{0x89, 'P', 'N', 'G'}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ImageUploaded, img.Status)

	img, err = svc.SubmitCaption(ctx, "user-1", img.ID, strPtr("My dog"), strPtr("A golden retriever on grass"))
	require.NoError(t, err)
	assert.Equal(t, models.ImageIndexed, img.Status)
	assert.Equal(t, "My dog. A golden retriever on grass", img.CombinedCaption)
	assert.Equal(t, []string{"My dog. A golden retriever on grass"}, emb.texts)
	assert.Contains(t, idx.upserts, img.ID)

	stored, err := store.GetImageByID(ctx, img.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ImageIndexed, stored.Status)

	// a later AI caption keeps the stored user caption
	img, err = svc.SubmitCaption(ctx, "user-1", img.ID, nil, strPtr("A dog"))
	require.NoError(t, err)
	assert.Equal(t, "My dog. A dog", img.CombinedCaption)
}

func TestImageService_SingleCaption(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newImageService(t)

	img, err := svc.Upload(ctx, "user-1", "cat.jpg", "image/jpeg", []byte{1}, strPtr("A cat"))
	require.NoError(t, err)
	assert.Equal(t, models.ImageIndexed, img.Status)
	assert.Equal(t, "A cat", img.CombinedCaption)
}

func TestImageService_Errors(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newImageService(t)

	_, err := svc.Upload(ctx, "user-1", "a.txt", "text/plain", []byte{1}, nil)
	assert.ErrorIs(t, err, core.ErrUnsupportedFormat)

	_, err = svc.SubmitCaption(ctx, "user-1", "missing", strPtr("x"), nil)
	assert.ErrorIs(t, err, core.ErrNotFound)

	img, err := svc.Upload(ctx, "user-1", "a.png", "image/png", []byte{1}, nil)
	require.NoError(t, err)
	_, err = svc.SubmitCaption(ctx, "user-1", img.ID, strPtr("  "), nil)
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = svc.SubmitCaption(ctx, "user-2", img.ID, strPtr("x"), nil)
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = svc.AutoCaption(ctx, "user-1", img.ID)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestImageService_EmbedFailureMarksFailed(t *testing.T) {
	ctx := context.Background()
	svc, store, emb, _ := newImageService(t)
	img, err := svc.Upload(ctx, "user-1", "a.png", "image/png", []byte{1}, nil)
	require.NoError(t, err)

	emb.embedErr = core.ErrQuotaExceeded
	_, err = svc.SubmitCaption(ctx, "user-1", img.ID, strPtr("sunset"), nil)
	assert.ErrorIs(t, err, core.ErrQuotaExceeded)

	stored, err := store.GetImageByID(ctx, img.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ImageFailed, stored.Status)
	assert.Contains(t, stored.ErrorDetail, "quota")

	// FAILED images can be captioned again
	emb.embedErr = nil
	img, err = svc.SubmitCaption(ctx, "user-1", img.ID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ImageIndexed, img.Status)
	assert.Equal(t, "sunset", img.CombinedCaption)
}

func TestImageService_AutoCaption(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newImageService(t)
	assert.False(t, svc.CanAutoCaption())
	svc.WithCaptioner(fakeCaptioner{caption: "A red bicycle"})
	assert.True(t, svc.CanAutoCaption())

	img, err := svc.Upload(ctx, "user-1", "bike.png", "image/png", []byte{1, 2, 3}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ImageUploaded, img.Status)

	img, err = svc.AutoCaption(ctx, "user-1", img.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ImageIndexed, img.Status)
	require.NotNil(t, img.AICaption)
	assert.Equal(t, "A red bicycle", *img.AICaption)
	assert.Equal(t, "A red bicycle", img.CombinedCaption)
}

func TestCleanFilename(t *testing.T) {
	assert.Equal(t, "report.pdf", cleanFilename("/etc/../report.pdf"))
	assert.Equal(t, "a_b.txt", cleanFilename(`C:\docs\a b.txt`))
	assert.Equal(t, "upload", cleanFilename(""))
}
