package core

import "context"

// ExtractedText is the output of one extraction: text plus metadata candidates.
type ExtractedText struct {
	Text     string
	Metadata map[string]string
}

// Extractor turns raw bytes of the content types it claims into text.
type Extractor interface {
	Name() string
	ContentTypes() []string
	Extract(ctx context.Context, data []byte, contentType string) (*ExtractedText, error)
}

// OCRBackend recognises text in images; backends are chosen by name, not content type.
type OCRBackend interface {
	Name() string
	Recognize(ctx context.Context, data []byte, contentType string) (*ExtractedText, error)
}
