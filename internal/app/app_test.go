package app

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/markdave123-py/Lumina/internal/config"
	"github.com/markdave123-py/Lumina/internal/core/ingestion_engine"
)

func TestChunkConfig(t *testing.T) {
	got := chunkConfig(&config.Config{ChunkMaxTokens: 200, ChunkOverlapPercent: 0})
	assert.Equal(t, ingestion_engine.NoOverlap, got.OverlapPercent)
	assert.Equal(t, 200, got.MaxTokens)

	got = chunkConfig(&config.Config{ChunkMaxTokens: 300, ChunkOverlapPercent: 20})
	assert.Equal(t, 20, got.OverlapPercent)
}
