package ingestion_engine

import (
	"strconv"
	"unicode"

	"github.com/google/uuid"

	"github.com/markdave123-py/Lumina/internal/models"
)

// ChunkConfig tunes the chunker.
//
// MaxTokens:       upper bound of whitespace tokens per chunk (e.g., 300).
// OverlapPercent:  share of MaxTokens repeated at the head of the next chunk (e.g., 15);
//                  0 means DefaultOverlapPercent, NoOverlap disables overlap.
type ChunkConfig struct {
	MaxTokens      int
	OverlapPercent int
}

const (
	DefaultMaxTokens      = 300
	DefaultOverlapPercent = 15

	// NoOverlap requests chunks that share no tokens.
	NoOverlap = -1
)

// withDefaults fills unset knobs.
func (c ChunkConfig) withDefaults() ChunkConfig {
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	switch {
	case c.OverlapPercent == 0:
		c.OverlapPercent = DefaultOverlapPercent
	case c.OverlapPercent < 0:
		c.OverlapPercent = 0
	}
	if c.OverlapPercent > 100 {
		c.OverlapPercent = 100
	}
	return c
}

// overlapTokens is floor(MaxTokens * OverlapPercent / 100), kept below MaxTokens so the window always advances.
func (c ChunkConfig) overlapTokens() int {
	o := c.MaxTokens * c.OverlapPercent / 100
	if o >= c.MaxTokens {
		o = c.MaxTokens - 1
	}
	return o
}

// token is a whitespace-delimited word and its byte span in the source text.
type token struct {
	start int
	end   int
}

// tokenize returns the byte spans of every whitespace-delimited word in text.
func tokenize(text string) []token {
	var (
		toks  []token
		start = -1
	)
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				toks = append(toks, token{start: start, end: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		toks = append(toks, token{start: start, end: len(text)})
	}
	return toks
}

// SplitChunks cuts normalized text into overlapping windows of at most MaxTokens tokens.
//
// The first chunk starts at byte 0 and each chunk ends where the token after its last
// token begins (the last chunk ends at len(text)), so the chunk spans cover the text
// with no gaps. Chunk IDs are derived from documentID, contentHash and ordinal, so the
// same input always yields the same chunks.
func SplitChunks(documentID, contentHash, text string, cfg ChunkConfig) []models.Chunk {
	cfg = cfg.withDefaults()

	toks := tokenize(text)
	if len(toks) == 0 {
		return nil
	}

	step := cfg.MaxTokens - cfg.overlapTokens()

	var chunks []models.Chunk
	for first := 0; ; first += step {
		last := first + cfg.MaxTokens
		if last > len(toks) {
			last = len(toks)
		}

		start := toks[first].start
		if first == 0 {
			start = 0
		}
		end := len(text)
		if last < len(toks) {
			end = toks[last].start
		}

		ordinal := len(chunks)
		chunks = append(chunks, models.Chunk{
			ID:             ChunkID(documentID, contentHash, ordinal),
			DocumentID:     documentID,
			Ordinal:        ordinal,
			Offset:         start,
			Length:         end - start,
			OverlapPercent: cfg.OverlapPercent,
			Text:           text[start:end],
			TokenCount:     last - first,
		})

		if last == len(toks) {
			break
		}
	}
	return chunks
}

// ChunkID is a UUIDv5 namespaced by the document, so every vector index accepts it as a point ID.
func ChunkID(documentID, contentHash string, ordinal int) string {
	ns := uuid.NewSHA1(uuid.NameSpaceURL, []byte("lumina:document:"+documentID))
	return uuid.NewSHA1(ns, []byte(contentHash+":"+strconv.Itoa(ordinal))).String()
}

