package ingestion_engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func words(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = "w" + strings.Repeat("x", i%5)
	}
	return strings.Join(w, " ")
}

func TestSplitChunks_Empty(t *testing.T) {
	assert.Empty(t, SplitChunks("doc", "h", "", ChunkConfig{}))
	assert.Empty(t, SplitChunks("doc", "h", " \n\t ", ChunkConfig{}))
}

func TestSplitChunks_Deterministic(t *testing.T) {
	text := words(1000)
	a := SplitChunks("doc-1", "hash-1", text, ChunkConfig{MaxTokens: 300, OverlapPercent: 15})
	b := SplitChunks("doc-1", "hash-1", text, ChunkConfig{MaxTokens: 300, OverlapPercent: 15})
	require.Equal(t, a, b)

	c := SplitChunks("doc-2", "hash-1", text, ChunkConfig{MaxTokens: 300, OverlapPercent: 15})
	require.Len(t, c, len(a))
	assert.NotEqual(t, a[0].ID, c[0].ID, "chunk IDs are namespaced by document")
}

func TestSplitChunks_CoverageAndBounds(t *testing.T) {
	text := "  leading space\n" + words(731) + "\ntrailing  "
	cfg := ChunkConfig{MaxTokens: 100, OverlapPercent: 15}
	chunks := SplitChunks("doc", "h", text, cfg)
	require.NotEmpty(t, chunks)

	assert.Equal(t, 0, chunks[0].Offset)
	last := chunks[len(chunks)-1]
	assert.Equal(t, len(text), last.Offset+last.Length)

	for i, ch := range chunks {
		assert.Equal(t, i, ch.Ordinal)
		assert.LessOrEqual(t, ch.TokenCount, cfg.MaxTokens)
		assert.Equal(t, text[ch.Offset:ch.Offset+ch.Length], ch.Text)
		assert.Len(t, strings.Fields(ch.Text), ch.TokenCount)
		if i > 0 {
			prev := chunks[i-1]
			assert.LessOrEqual(t, ch.Offset, prev.Offset+prev.Length, "no gap between chunk %d and %d", i-1, i)
		}
	}
}

func TestSplitChunks_Overlap(t *testing.T) {
	text := words(250)
	chunks := SplitChunks("doc", "h", text, ChunkConfig{MaxTokens: 100, OverlapPercent: 15})

	// step = 100 - 15 = 85: windows start at tokens 0, 85, 170
	require.Len(t, chunks, 3)
	assert.Equal(t, 100, chunks[0].TokenCount)
	assert.Equal(t, 100, chunks[1].TokenCount)
	assert.Equal(t, 80, chunks[2].TokenCount)

	tail := strings.Fields(chunks[0].Text)[85:]
	head := strings.Fields(chunks[1].Text)[:15]
	assert.Equal(t, tail, head)
}

func TestSplitChunks_OverlapClamped(t *testing.T) {
	chunks := SplitChunks("doc", "h", words(10), ChunkConfig{MaxTokens: 4, OverlapPercent: 100})

	// overlap clamps to 3 tokens so the window advances by one token
	require.Len(t, chunks, 7)
	for _, ch := range chunks {
		assert.LessOrEqual(t, ch.TokenCount, 4)
	}
}

func TestSplitChunks_Defaults(t *testing.T) {
	chunks := SplitChunks("doc", "h", words(301), ChunkConfig{})
	require.Len(t, chunks, 2)
	assert.Equal(t, DefaultMaxTokens, chunks[0].TokenCount)
	assert.Equal(t, DefaultOverlapPercent, chunks[0].OverlapPercent)
	assert.Equal(t, 46, chunks[1].TokenCount)
}

func TestSplitChunks_NoOverlap(t *testing.T) {
	chunks := SplitChunks("doc", "h", words(301), ChunkConfig{MaxTokens: 100, OverlapPercent: NoOverlap})
	require.Len(t, chunks, 4)
	assert.Equal(t, 0, chunks[0].OverlapPercent)
	assert.Equal(t, 1, chunks[3].TokenCount)
}

func TestIngestConfigKeepsDefaultOverlap(t *testing.T) {
	cfg := IngestConfig{}
	cfg.applyDefaults()
	chunks := SplitChunks("doc", "h", words(301), cfg.Chunk)
	require.Len(t, chunks, 2)
	assert.Equal(t, DefaultOverlapPercent, chunks[1].OverlapPercent)

	cfg = IngestConfig{Chunk: ChunkConfig{OverlapPercent: NoOverlap}}
	cfg.applyDefaults()
	chunks = SplitChunks("doc", "h", words(301), cfg.Chunk)
	assert.Equal(t, 0, chunks[0].OverlapPercent)
}
