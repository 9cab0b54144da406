package ingestion_engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/markdave123-py/Lumina/internal/core"
	"github.com/markdave123-py/Lumina/internal/core/extraction"
	objectclient "github.com/markdave123-py/Lumina/internal/core/object-client"
)

// extract pulls the raw bytes from object storage and runs the matching
// extraction strategy, or the configured OCR backend for images.
func (i *DocumentIngestor) extract(ctx context.Context, r *run) error {
	doc := r.doc
	bucket, key := objectclient.ParseURL(doc.SourceURI)
	if bucket == "" || key == "" {
		return fmt.Errorf("source uri %q: %w", doc.SourceURI, core.ErrInvalidInput)
	}

	data, err := i.obj.GetFile(ctx, bucket, key)
	if err != nil {
		return storeErr("fetch "+doc.SourceURI, err)
	}

	var out *core.ExtractedText
	if extraction.IsImage(doc.ContentType) && i.cfg.OCRBackend != "" {
		if err := i.ocrLimit.Wait(ctx); err != nil {
			return fmt.Errorf("ocr limiter: %w", err)
		}
		out, err = i.extractor.OCR(ctx, i.cfg.OCRBackend, data, doc.ContentType)
	} else {
		out, err = i.extractor.ExtractNamed(ctx, data, doc.ContentType, doc.FileName)
	}
	if err != nil {
		return err
	}
	if out == nil || strings.TrimSpace(out.Text) == "" {
		return fmt.Errorf("no text extracted from %s: %w", doc.ContentType, core.ErrParse)
	}

	r.extracted = out
	r.log.Debug("extracted",
		zap.Int("bytes", len(data)),
		zap.Int("text_bytes", len(out.Text)),
		zap.Int("metadata_candidates", len(out.Metadata)))
	return nil
}

// ensureExtracted re-runs extraction when a resumed run starts past EXTRACTING.
// Extraction is deterministic, so the result matches the original run.
func (i *DocumentIngestor) ensureExtracted(ctx context.Context, r *run) error {
	if r.extracted != nil {
		return nil
	}
	if err := i.extract(ctx, r); err != nil {
		return fmt.Errorf("re-extract: %w", err)
	}
	return nil
}
