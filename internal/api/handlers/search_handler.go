package handlers

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/markdave123-py/Lumina/internal/core/retrieval"
	"github.com/markdave123-py/Lumina/internal/models"
)

// Retriever answers fused multi-slice queries.
type Retriever interface {
	Search(ctx context.Context, q retrieval.Query) ([]models.RetrievalResult, error)
}

// KeyLister lists the metadata keys known to the key library.
type KeyLister interface {
	Keys(ctx context.Context) ([]models.MetadataKeyEntry, error)
}

type SearchHandler struct {
	retriever Retriever
	keys      KeyLister
	logger    *zap.Logger
}

func NewSearchHandler(retriever Retriever, keys KeyLister, logger *zap.Logger) *SearchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearchHandler{retriever: retriever, keys: keys, logger: logger}
}

type searchRequest struct {
	Query   string            `json:"query"`
	Filters map[string]string `json:"filters"`
	TopK    int               `json:"topK"`
}

type searchResponse struct {
	Results []models.RetrievalResult `json:"results"`
}

func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	results, err := h.retriever.Search(r.Context(), retrieval.Query{
		UserID:  userID,
		Text:    strings.TrimSpace(req.Query),
		Filters: req.Filters,
		TopK:    req.TopK,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if results == nil {
		results = []models.RetrievalResult{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: results})
}

type keysResponse struct {
	Keys []models.MetadataKeyEntry `json:"keys"`
}

// MetadataKeys lists known keys for filter suggestion.
func (h *SearchHandler) MetadataKeys(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	keys, err := h.keys.Keys(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if keys == nil {
		keys = []models.MetadataKeyEntry{}
	}
	writeJSON(w, http.StatusOK, keysResponse{Keys: keys})
}
