package ingestion_engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/Lumina/internal/core"
	"github.com/markdave123-py/Lumina/internal/models"
)

// maxEmbedConcurrency bounds in-flight embedding batches for one document.
const maxEmbedConcurrency = 4

// normalize maps extracted metadata onto the key library and stores it.
func (i *DocumentIngestor) normalize(ctx context.Context, r *run) error {
	if err := i.ensureExtracted(ctx, r); err != nil {
		return err
	}

	candidates := make(map[string]string, len(r.extracted.Metadata)+2)
	for k, v := range r.extracted.Metadata {
		candidates[k] = v
	}
	if r.doc.ContentType != "" {
		candidates["content_type"] = r.doc.ContentType
	}
	if r.doc.FileName != "" {
		candidates["file_name"] = r.doc.FileName
	}

	values, err := i.normalizer.Normalize(ctx, candidates)
	if err != nil {
		return storeErr("normalize metadata", err)
	}
	if err := i.db.UpdateDocumentMetadata(ctx, r.doc.ID, values); err != nil {
		return storeErr("store metadata", err)
	}
	// a record that already carries metadata was counted by an earlier run
	if len(r.doc.Metadata) == 0 {
		if err := i.normalizer.Observe(ctx, values); err != nil {
			// distributions only feed filter suggestions
			r.log.Warn("metadata distribution not updated", zap.Error(err))
		}
	}
	r.doc.Metadata = values
	r.metadata = values
	return nil
}

// chunk splits the extracted text and replaces the document's chunk records.
func (i *DocumentIngestor) chunk(ctx context.Context, r *run) error {
	if err := i.ensureExtracted(ctx, r); err != nil {
		return err
	}
	chunks := SplitChunks(r.doc.ID, r.doc.ContentHash, r.extracted.Text, i.cfg.Chunk)
	if err := i.db.ReplaceDocumentChunks(ctx, r.doc.ID, chunks); err != nil {
		return storeErr("store chunks", err)
	}
	r.chunks = chunks
	r.log.Debug("chunked", zap.Int("chunks", len(chunks)))
	return nil
}

func (i *DocumentIngestor) ensureChunks(ctx context.Context, r *run) error {
	if r.chunks != nil {
		return nil
	}
	chunks, err := i.db.GetChunksByDocument(ctx, r.doc.ID)
	if err != nil {
		return storeErr("load chunks", err)
	}
	if len(chunks) == 0 {
		return fmt.Errorf("document %s has no chunks: %w", r.doc.ID, core.ErrInvalidInput)
	}
	r.chunks = chunks
	return nil
}

// embed embeds every chunk in rate-limited batches. One failed batch fails
// the whole stage; nothing is persisted until all batches succeed.
func (i *DocumentIngestor) embed(ctx context.Context, r *run) error {
	if err := i.ensureChunks(ctx, r); err != nil {
		return err
	}

	vectors := make([][]float32, len(r.chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxEmbedConcurrency)

	for start := 0; start < len(r.chunks); start += i.cfg.BatchSize {
		end := min(start+i.cfg.BatchSize, len(r.chunks))
		texts := make([]string, 0, end-start)
		for _, ch := range r.chunks[start:end] {
			texts = append(texts, ch.Text)
		}

		g.Go(func() error {
			if err := i.embedLimit.Wait(gctx); err != nil {
				return fmt.Errorf("embed limiter: %w", err)
			}
			vecs, err := i.embedder.EmbedTexts(gctx, texts)
			if err != nil {
				return fmt.Errorf("embed batch %d-%d: %w", start, end, err)
			}
			if len(vecs) != len(texts) {
				return fmt.Errorf("embed batch %d-%d: got %d vectors for %d texts: %w",
					start, end, len(vecs), len(texts), core.ErrTransient)
			}
			copy(vectors[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	embedded := make([]models.Chunk, len(r.chunks))
	for idx, ch := range r.chunks {
		ch.Embedding = vectors[idx]
		embedded[idx] = ch
	}
	if err := i.db.ReplaceDocumentChunks(ctx, r.doc.ID, embedded); err != nil {
		return storeErr("store embeddings", err)
	}
	r.chunks = embedded
	return nil
}

// index issues one upsert per index writer once every chunk is embedded.
func (i *DocumentIngestor) index(ctx context.Context, r *run) error {
	if err := i.ensureChunks(ctx, r); err != nil {
		return err
	}
	for _, ch := range r.chunks {
		if len(ch.Embedding) == 0 {
			return fmt.Errorf("chunk %s not embedded: %w", ch.ID, core.ErrInvalidInput)
		}
	}
	if r.metadata == nil {
		r.metadata = r.doc.Metadata
	}

	for _, w := range i.writers {
		if err := w.Upsert(ctx, r.doc, r.chunks, r.metadata); err != nil {
			return storeErr("index upsert", err)
		}
	}
	return nil
}
