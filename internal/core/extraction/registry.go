package extraction

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/markdave123-py/Lumina/internal/core"
)

// Registry maps content types and file extensions to exactly one extractor each,
// and OCR backends to their configured names.
type Registry struct {
	mu         sync.RWMutex
	extractors map[string]core.Extractor
	ocr        map[string]core.OCRBackend
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		extractors: make(map[string]core.Extractor),
		ocr:        make(map[string]core.OCRBackend),
	}
}

// Register adds e under every content type it claims.
// A content type already claimed by another extractor is rejected and nothing is registered.
func (r *Registry) Register(e core.Extractor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(e.ContentTypes()))
	for _, ct := range e.ContentTypes() {
		key := normalizeContentType(ct)
		if key == "" {
			return fmt.Errorf("extractor %s: empty content type: %w", e.Name(), core.ErrInvalidInput)
		}
		if prev, ok := r.extractors[key]; ok {
			return fmt.Errorf("content type %q already claimed by %s: %w", key, prev.Name(), core.ErrAlreadyExists)
		}
		keys = append(keys, key)
	}
	for _, key := range keys {
		r.extractors[key] = e
	}
	return nil
}

// RegisterOCR adds an OCR backend under its name.
func (r *Registry) RegisterOCR(b core.OCRBackend) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := strings.ToLower(b.Name())
	if _, ok := r.ocr[name]; ok {
		return fmt.Errorf("ocr backend %q: %w", name, core.ErrAlreadyExists)
	}
	r.ocr[name] = b
	return nil
}

// Lookup returns the extractor claiming contentType (a media type or a ".ext").
func (r *Registry) Lookup(contentType string) (core.Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.extractors[normalizeContentType(contentType)]
	return e, ok
}

// Extract runs the extractor registered for contentType.
func (r *Registry) Extract(ctx context.Context, data []byte, contentType string) (*core.ExtractedText, error) {
	e, ok := r.Lookup(contentType)
	if !ok {
		return nil, fmt.Errorf("no extractor for %q: %w", contentType, core.ErrUnsupportedFormat)
	}
	return e.Extract(ctx, data, normalizeContentType(contentType))
}

// ExtractNamed tries contentType first and then the extension of fileName.
func (r *Registry) ExtractNamed(ctx context.Context, data []byte, contentType, fileName string) (*core.ExtractedText, error) {
	if _, ok := r.Lookup(contentType); ok {
		return r.Extract(ctx, data, contentType)
	}
	if ext := strings.ToLower(filepath.Ext(fileName)); ext != "" {
		if _, ok := r.Lookup(ext); ok {
			return r.Extract(ctx, data, ext)
		}
	}
	return nil, fmt.Errorf("no extractor for %q (%s): %w", contentType, fileName, core.ErrUnsupportedFormat)
}

// OCR runs the backend registered under name.
func (r *Registry) OCR(ctx context.Context, name string, data []byte, contentType string) (*core.ExtractedText, error) {
	r.mu.RLock()
	b, ok := r.ocr[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no ocr backend %q: %w", name, core.ErrUnsupportedFormat)
	}
	return b.Recognize(ctx, data, contentType)
}

// ContentTypes lists every claimed content type, sorted.
func (r *Registry) ContentTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.extractors))
	for k := range r.extractors {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// normalizeContentType lower-cases a media type and strips its parameters.
// File extensions are kept with their leading dot.
func normalizeContentType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if ct == "" || strings.HasPrefix(ct, ".") {
		return ct
	}
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}

// IsImage reports whether contentType is an image media type.
func IsImage(contentType string) bool {
	return strings.HasPrefix(normalizeContentType(contentType), "image/")
}
