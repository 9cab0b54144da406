// Package vectorindex adapts vector stores into index writers and retrieval
// searchers. Every backend keeps one collection per retrieval slice and stores
// the owning document or image ID with each point, so hits from several chunks
// of one document collapse onto the same result ID. Points also carry the
// uploading user, and a query scoped to a user only sees that user's points.
package vectorindex

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/markdave123-py/Lumina/internal/core"
	"github.com/markdave123-py/Lumina/internal/models"
)

// Payload field names shared by every backend.
const (
	fieldOwnerID   = "owner_id"
	fieldUserID    = "user_id"
	fieldKind      = "kind"
	fieldSnippet   = "snippet"
	fieldSourceURI = "source_uri"
	metaPrefix     = "meta."
)

const maxSnippetLen = 280

// Index is a collection that accepts document chunks and image vectors and answers queries.
type Index interface {
	core.IndexWriter
	core.ImageIndex
	core.Searcher
}

var errEmptyVector = errors.New("vector is empty")

// snippet trims text to maxSnippetLen bytes on a rune boundary.
func snippet(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= maxSnippetLen {
		return text
	}
	cut := maxSnippetLen
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "…"
}

// chunkPoints checks every chunk carries an embedding before anything is written.
func chunkPoints(chunks []models.Chunk) error {
	for _, ch := range chunks {
		if len(ch.Embedding) == 0 {
			return errors.Join(core.ErrInvalidInput, errors.New("chunk "+ch.ID+" has no embedding"))
		}
	}
	return nil
}
