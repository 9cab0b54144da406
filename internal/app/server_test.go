package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/markdave123-py/Lumina/internal/config"
	db "github.com/markdave123-py/Lumina/internal/core/database"
	"github.com/markdave123-py/Lumina/internal/core/metadata"
	objectclient "github.com/markdave123-py/Lumina/internal/core/object-client"
	"github.com/markdave123-py/Lumina/internal/core/retrieval"
	"github.com/markdave123-py/Lumina/internal/core/tracking"
	"github.com/markdave123-py/Lumina/internal/models"
	"github.com/markdave123-py/Lumina/internal/services"
)

type nopSink struct{}

func (nopSink) Dispatch(context.Context, models.Trigger) error { return nil }

type nopRemover struct{}

func (nopRemover) Delete(context.Context, string) error { return nil }

type stubRetriever struct{}

func (stubRetriever) Search(context.Context, retrieval.Query) ([]models.RetrievalResult, error) {
	return []models.RetrievalResult{{ID: "doc-1", Kind: models.KindDocument, Score: 1}}, nil
}

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg := &config.Config{JWTSecret: "secret", CORSOrigins: []string{"http://localhost:5173"}}
	store := db.NewMemoryClient()
	objects := objectclient.NewMemoryObjectClient()
	docs := services.NewDocumentService(tracking.NewClient(store, 3, nil), objects, "docs", nopSink{}, nopRemover{}, nil)
	images := services.NewImageService(store, objects, "docs", nil, nil, nil)
	norm := metadata.NewNormalizer(metadata.NewMemoryKeyLibrary(10), nil)
	return NewRouter(cfg, docs, images, stubRetriever{}, norm, zap.NewNop())
}

func token(t *testing.T) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "user-1",
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	return s
}

func TestRouter_PublicEndpoints(t *testing.T) {
	r := newRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRouter_APIRequiresToken(t *testing.T) {
	r := newRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/documents", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"query":"bikes"}`))
	req.Header.Set("Authorization", "Bearer "+token(t))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"doc-1"`)

	req = httptest.NewRequest(http.MethodGet, "/api/metadata/keys", nil)
	req.Header.Set("Authorization", "Bearer "+token(t))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"keys":[]}`, rec.Body.String())
}
