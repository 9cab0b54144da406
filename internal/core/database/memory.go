package db

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/markdave123-py/Lumina/internal/core"
	"github.com/markdave123-py/Lumina/internal/models"
)

var _ core.DbClient = (*MemoryClient)(nil)

// MemoryClient keeps every record in process memory. It backs local mode and tests.
type MemoryClient struct {
	mu     sync.RWMutex
	docs   map[string]*models.Document
	chunks map[string][]models.Chunk
	images map[string]*models.ImageAsset
	now    func() time.Time
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		docs:   make(map[string]*models.Document),
		chunks: make(map[string][]models.Chunk),
		images: make(map[string]*models.ImageAsset),
		now:    time.Now,
	}
}

func (m *MemoryClient) Close() error { return nil }

func (m *MemoryClient) CreateDocument(_ context.Context, doc *models.Document) error {
	if doc == nil {
		return fmt.Errorf("nil document: %w", core.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[doc.ID]; ok {
		return fmt.Errorf("document %s: %w", doc.ID, core.ErrAlreadyExists)
	}
	now := m.now().UTC()
	doc.CreatedAt, doc.UpdatedAt = now, now
	m.docs[doc.ID] = copyDocument(doc)
	return nil
}

func (m *MemoryClient) GetDocumentByID(_ context.Context, id string) (*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return copyDocument(d), nil
}

func (m *MemoryClient) ListDocumentsByUser(_ context.Context, userID string) ([]models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Document
	for _, d := range m.docs {
		if d.UserID == userID {
			out = append(out, *copyDocument(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryClient) ListDocumentsByStatus(_ context.Context, statuses ...models.DocumentStatus) ([]models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Document
	for _, d := range m.docs {
		if slices.Contains(statuses, d.Status) {
			out = append(out, *copyDocument(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (m *MemoryClient) CompareAndSetStatus(_ context.Context, id string, from, to models.DocumentStatus, upd core.StatusUpdate) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	if d.Status != from {
		return nil, fmt.Errorf("document %s is %s, not %s: %w", id, d.Status, from, core.ErrInvalidTransition)
	}
	d.Status = to
	d.ErrorDetail = upd.ErrorDetail
	d.FailedStage = upd.FailedStage
	if upd.IncrementRetry {
		d.RetryCount++
	}
	if upd.ResetBudget {
		d.RetryBase = d.RetryCount
	}
	d.UpdatedAt = m.now().UTC()
	return copyDocument(d), nil
}

func (m *MemoryClient) UpdateDocumentMetadata(_ context.Context, id string, metadata []models.MetadataValue) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.docs[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	d.Metadata = append([]models.MetadataValue(nil), metadata...)
	d.UpdatedAt = m.now().UTC()
	return nil
}

func (m *MemoryClient) DeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[id]; !ok {
		return fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	delete(m.docs, id)
	delete(m.chunks, id)
	return nil
}

func (m *MemoryClient) ReplaceDocumentChunks(_ context.Context, documentID string, chunks []models.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.docs[documentID]
	if !ok {
		return fmt.Errorf("document %s: %w", documentID, core.ErrNotFound)
	}
	now := m.now().UTC()
	stored := make([]models.Chunk, len(chunks))
	ids := make([]string, len(chunks))
	for i, ch := range chunks {
		ch.DocumentID = documentID
		ch.CreatedAt = now
		ch.Embedding = append([]float32(nil), ch.Embedding...)
		stored[i] = ch
		ids[i] = ch.ID
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].Ordinal < stored[j].Ordinal })
	m.chunks[documentID] = stored
	d.ChunkIDs = ids
	d.UpdatedAt = now
	return nil
}

func (m *MemoryClient) GetChunksByDocument(_ context.Context, documentID string) ([]models.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.chunks[documentID]
	out := make([]models.Chunk, len(src))
	for i, ch := range src {
		ch.Embedding = append([]float32(nil), ch.Embedding...)
		out[i] = ch
	}
	return out, nil
}

func (m *MemoryClient) CreateImage(_ context.Context, img *models.ImageAsset) error {
	if img == nil {
		return fmt.Errorf("nil image: %w", core.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.images[img.ID]; ok {
		return fmt.Errorf("image %s: %w", img.ID, core.ErrAlreadyExists)
	}
	now := m.now().UTC()
	img.CreatedAt, img.UpdatedAt = now, now
	cp := *img
	m.images[img.ID] = &cp
	return nil
}

func (m *MemoryClient) GetImageByID(_ context.Context, id string) (*models.ImageAsset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	img, ok := m.images[id]
	if !ok {
		return nil, fmt.Errorf("image %s: %w", id, core.ErrNotFound)
	}
	cp := *img
	return &cp, nil
}

func (m *MemoryClient) UpdateImage(_ context.Context, img *models.ImageAsset, from models.ImageStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.images[img.ID]
	if !ok {
		return fmt.Errorf("image %s: %w", img.ID, core.ErrNotFound)
	}
	if cur.Status != from {
		return fmt.Errorf("image %s is %s, not %s: %w", img.ID, cur.Status, from, core.ErrInvalidTransition)
	}
	img.CreatedAt = cur.CreatedAt
	img.UpdatedAt = m.now().UTC()
	cp := *img
	m.images[img.ID] = &cp
	return nil
}

func copyDocument(d *models.Document) *models.Document {
	cp := *d
	cp.ChunkIDs = append([]string(nil), d.ChunkIDs...)
	cp.Metadata = append([]models.MetadataValue(nil), d.Metadata...)
	return &cp
}
