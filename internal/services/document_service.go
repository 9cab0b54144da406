package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/markdave123-py/Lumina/internal/core"
	"github.com/markdave123-py/Lumina/internal/core/tracking"
	"github.com/markdave123-py/Lumina/internal/events"
	"github.com/markdave123-py/Lumina/internal/models"
)

// DocumentRemover deletes a document together with its chunks, index entries and bytes.
type DocumentRemover interface {
	Delete(ctx context.Context, id string) error
}

type DocumentService struct {
	tracker *tracking.Client
	storage core.ObjectClient
	bucket  string
	sink    events.TriggerSink
	remover DocumentRemover
	logger  *zap.Logger
}

func NewDocumentService(
	tracker *tracking.Client,
	storage core.ObjectClient,
	bucket string,
	sink events.TriggerSink,
	remover DocumentRemover,
	logger *zap.Logger,
) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentService{
		tracker: tracker,
		storage: storage,
		bucket:  bucket,
		sink:    sink,
		remover: remover,
		logger:  logger,
	}
}

// Upload stores the bytes, creates the UPLOADED record and dispatches the trigger.
func (s *DocumentService) Upload(ctx context.Context, userID, filename, contentType string, data []byte) (*models.Document, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty upload: %w", core.ErrInvalidInput)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	docID := uuid.NewString()
	name := cleanFilename(filename)
	url, err := s.storage.UploadFile(ctx, s.bucket, objectKey(userID, docID, name), data, contentType)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}

	doc := &models.Document{
		ID:          docID,
		UserID:      userID,
		FileName:    name,
		SourceURI:   url,
		ContentType: contentType,
		ContentHash: ContentHash(data),
		Status:      models.StatusUploaded,
	}
	if err := s.tracker.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to store document record: %w", err)
	}
	if err := s.sink.Dispatch(ctx, doc.Trigger()); err != nil {
		return nil, fmt.Errorf("dispatch %s: %w", docID, err)
	}

	s.logger.Info("document uploaded",
		zap.String("document_id", docID),
		zap.String("content_type", contentType),
		zap.Int("size", len(data)),
	)
	return doc, nil
}

// Status returns the tracking view of a document owned by userID.
func (s *DocumentService) Status(ctx context.Context, userID, id string) (models.StatusView, error) {
	doc, err := s.owned(ctx, userID, id)
	if err != nil {
		return models.StatusView{}, err
	}
	return doc.View(), nil
}

func (s *DocumentService) ListByUser(ctx context.Context, userID string) ([]models.Document, error) {
	docs, err := s.tracker.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []models.Document{}
	}
	return docs, nil
}

// Retry moves a FAILED document back into the pipeline and dispatches it again.
func (s *DocumentService) Retry(ctx context.Context, userID, id string) (models.StatusView, error) {
	if _, err := s.owned(ctx, userID, id); err != nil {
		return models.StatusView{}, err
	}
	doc, err := s.tracker.Retry(ctx, id)
	if err != nil {
		return models.StatusView{}, err
	}
	if err := s.sink.Dispatch(ctx, doc.Trigger()); err != nil {
		return models.StatusView{}, fmt.Errorf("dispatch %s: %w", id, err)
	}
	return doc.View(), nil
}

func (s *DocumentService) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.owned(ctx, userID, id); err != nil {
		return err
	}
	return s.remover.Delete(ctx, id)
}

// owned hides documents of other users behind ErrNotFound.
func (s *DocumentService) owned(ctx context.Context, userID, id string) (*models.Document, error) {
	doc, err := s.tracker.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.UserID != userID {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return doc, nil
}

// ContentHash is the hex SHA-256 of data, carried by triggers as contentHash.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// cleanFilename strips path components and spaces from an uploaded name.
func cleanFilename(filename string) string {
	filename = path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	filename = strings.ReplaceAll(filename, " ", "_")
	if filename == "." || filename == "/" || filename == "" {
		return "upload"
	}
	return filename
}

// objectKey creates a consistent S3 key layout.
func objectKey(userID, id, filename string) string {
	return path.Join(userID, id, filename)
}
