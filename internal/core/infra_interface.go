package core

import (
	"context"
	"io"

	"github.com/markdave123-py/Lumina/internal/models"
)

// StatusUpdate carries the fields written alongside a compare-and-set status change.
// An empty ErrorDetail or FailedStage clears the stored value. ResetBudget sets
// RetryBase to the RetryCount written by this update.
type StatusUpdate struct {
	ErrorDetail    string
	FailedStage    models.DocumentStatus
	IncrementRetry bool
	ResetBudget    bool
}

// DocumentStore persists document tracking records.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	ListDocumentsByUser(ctx context.Context, userID string) ([]models.Document, error)
	// ListDocumentsByStatus returns every document whose status is one of statuses, oldest update first.
	ListDocumentsByStatus(ctx context.Context, statuses ...models.DocumentStatus) ([]models.Document, error)
	// CompareAndSetStatus moves id from `from` to `to` only if its status is still `from`.
	// It returns ErrInvalidTransition when the stored status differs and ErrNotFound when absent.
	CompareAndSetStatus(ctx context.Context, id string, from, to models.DocumentStatus, upd StatusUpdate) (*models.Document, error)
	UpdateDocumentMetadata(ctx context.Context, id string, metadata []models.MetadataValue) error
	DeleteDocument(ctx context.Context, id string) error
}

// ChunkStore persists the chunk records of a document.
type ChunkStore interface {
	// ReplaceDocumentChunks atomically swaps every chunk of documentID for chunks.
	ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []models.Chunk) error
	GetChunksByDocument(ctx context.Context, documentID string) ([]models.Chunk, error)
}

// ImageStore persists image assets.
type ImageStore interface {
	CreateImage(ctx context.Context, img *models.ImageAsset) error
	GetImageByID(ctx context.Context, id string) (*models.ImageAsset, error)
	// UpdateImage writes img only if the stored status is still `from`.
	UpdateImage(ctx context.Context, img *models.ImageAsset, from models.ImageStatus) error
}

// DbClient defines all persistence operations the services need.
// It abstracts Postgres so higher layers never depend on a specific DB.
type DbClient interface {
	DocumentStore
	ChunkStore
	ImageStore
	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
	GetObjectReader(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// IndexWriter writes embedded chunks into a vector index.
type IndexWriter interface {
	Upsert(ctx context.Context, doc *models.Document, chunks []models.Chunk, metadata []models.MetadataValue) error
	Delete(ctx context.Context, documentID string) error
}

// IndexHit is one nearest-neighbour match returned by a vector index.
type IndexHit struct {
	ID        string
	Kind      models.ResultKind
	Score     float64
	Snippet   string
	SourceURI string
}

// SearchFilter scopes a nearest-neighbour query.
//
// UserID:   only points written for this user match; empty leaves the query unscoped.
// Metadata: exact-match conditions on normalized document metadata.
type SearchFilter struct {
	UserID   string
	Metadata map[string]string
}

// Searcher is a vector index queried as an opaque nearest-neighbour oracle.
type Searcher interface {
	Search(ctx context.Context, vector []float32, topK int, filter SearchFilter) ([]IndexHit, error)
}

// ImageIndex stores image vectors for one retrieval slice.
type ImageIndex interface {
	UpsertImage(ctx context.Context, img *models.ImageAsset, vector []float32) error
	DeleteImage(ctx context.Context, imageID string) error
}
