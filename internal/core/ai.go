package core

import "context"

type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Captioner describes an image in natural language.
type Captioner interface {
	Caption(ctx context.Context, data []byte, contentType string) (string, error)
}
