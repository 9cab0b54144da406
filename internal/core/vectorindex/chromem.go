package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"os"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/markdave123-py/Lumina/internal/core"
	"github.com/markdave123-py/Lumina/internal/models"
)

var _ Index = (*ChromemIndex)(nil)

// ChromemConfig holds configuration for the embedded chromem-go database.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty keeps everything in memory.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool
}

// OpenChromemDB opens a persistent database at cfg.Path, or an in-memory one.
func OpenChromemDB(cfg ChromemConfig) (*chromem.DB, error) {
	if cfg.Path == "" {
		return chromem.NewDB(), nil
	}
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", cfg.Path, err)
	}
	db, err := chromem.NewPersistentDB(cfg.Path, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}
	return db, nil
}

// noEmbedding is installed as the collection's embedding func: vectors are always
// computed upstream, so chromem must never call out on its own.
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem collection expects precomputed embeddings")
}

// ChromemIndex is one chromem collection.
type ChromemIndex struct {
	collection *chromem.Collection
	logger     *zap.Logger
}

func NewChromemIndex(db *chromem.DB, name string, logger *zap.Logger) (*ChromemIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	col, err := db.GetOrCreateCollection(name, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("get or create collection %s: %w", name, err)
	}
	return &ChromemIndex{collection: col, logger: logger}, nil
}

func (c *ChromemIndex) Upsert(ctx context.Context, doc *models.Document, chunks []models.Chunk, metadata []models.MetadataValue) error {
	if err := chunkPoints(chunks); err != nil {
		return err
	}
	if err := c.Delete(ctx, doc.ID); err != nil {
		return err
	}

	docs := make([]chromem.Document, 0, len(chunks))
	for _, ch := range chunks {
		md := map[string]string{
			fieldOwnerID:   doc.ID,
			fieldUserID:    doc.UserID,
			fieldKind:      string(models.KindDocument),
			fieldSourceURI: doc.SourceURI,
		}
		for k, v := range models.MetadataMap(metadata) {
			md[metaPrefix+k] = v
		}
		docs = append(docs, chromem.Document{
			ID:        ch.ID,
			Metadata:  md,
			Embedding: ch.Embedding,
			Content:   ch.Text,
		})
	}
	if len(docs) == 0 {
		return nil
	}
	if err := c.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("chromem add documents: %w", err)
	}
	c.logger.Debug("chromem upsert", zap.String("document_id", doc.ID), zap.Int("points", len(docs)))
	return nil
}

func (c *ChromemIndex) Delete(ctx context.Context, documentID string) error {
	if err := c.collection.Delete(ctx, map[string]string{fieldOwnerID: documentID}, nil); err != nil {
		return fmt.Errorf("chromem delete %s: %w", documentID, err)
	}
	return nil
}

func (c *ChromemIndex) UpsertImage(ctx context.Context, img *models.ImageAsset, vector []float32) error {
	if len(vector) == 0 {
		return fmt.Errorf("image %s: %w: %v", img.ID, core.ErrInvalidInput, errEmptyVector)
	}
	if err := c.Delete(ctx, img.ID); err != nil {
		return err
	}
	return c.collection.AddDocument(ctx, chromem.Document{
		ID: img.ID,
		Metadata: map[string]string{
			fieldOwnerID:   img.ID,
			fieldUserID:    img.UserID,
			fieldKind:      string(models.KindImage),
			fieldSourceURI: img.SourceURI,
		},
		Embedding: vector,
		Content:   img.CombinedCaption,
	})
}

func (c *ChromemIndex) DeleteImage(ctx context.Context, imageID string) error {
	return c.Delete(ctx, imageID)
}

// Search runs an exhaustive cosine query; topK is capped at the collection size.
func (c *ChromemIndex) Search(ctx context.Context, vector []float32, topK int, filter core.SearchFilter) ([]core.IndexHit, error) {
	if len(vector) == 0 {
		return nil, errEmptyVector
	}
	n := topK
	if count := c.collection.Count(); n > count {
		n = count
	}
	if n <= 0 {
		return nil, nil
	}

	var where map[string]string
	if len(filter.Metadata) > 0 || filter.UserID != "" {
		where = make(map[string]string, len(filter.Metadata)+1)
		for k, v := range filter.Metadata {
			where[metaPrefix+k] = v
		}
		if filter.UserID != "" {
			where[fieldUserID] = filter.UserID
		}
	}

	res, err := c.collection.QueryEmbedding(ctx, vector, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	out := make([]core.IndexHit, 0, len(res))
	for _, r := range res {
		out = append(out, core.IndexHit{
			ID:        r.Metadata[fieldOwnerID],
			Kind:      models.ResultKind(r.Metadata[fieldKind]),
			Score:     float64(r.Similarity),
			Snippet:   snippet(r.Content),
			SourceURI: r.Metadata[fieldSourceURI],
		})
	}
	return out, nil
}
