package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/markdave123-py/Lumina/internal/core"
	objectclient "github.com/markdave123-py/Lumina/internal/core/object-client"
	"github.com/markdave123-py/Lumina/internal/metrics"
	"github.com/markdave123-py/Lumina/internal/models"
)

// ImageService runs the caption pipeline: UPLOADED -> CAPTIONING -> INDEXED | FAILED.
// The combined caption is embedded with the text embedder and stored in the
// caption index.
type ImageService struct {
	db       core.ImageStore
	storage  core.ObjectClient
	bucket   string
	embedder core.EmbeddingProvider
	captions core.ImageIndex
	logger   *zap.Logger

	captioner core.Captioner
}

func NewImageService(
	db core.ImageStore,
	storage core.ObjectClient,
	bucket string,
	embedder core.EmbeddingProvider,
	captions core.ImageIndex,
	logger *zap.Logger,
) *ImageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImageService{
		db:       db,
		storage:  storage,
		bucket:   bucket,
		embedder: embedder,
		captions: captions,
		logger:   logger,
	}
}

// WithCaptioner enables AI captioning.
func (s *ImageService) WithCaptioner(c core.Captioner) *ImageService {
	s.captioner = c
	return s
}

// CanAutoCaption reports whether a captioner is configured.
func (s *ImageService) CanAutoCaption() bool { return s.captioner != nil }

// Upload stores an image and creates its UPLOADED record. A non-empty user
// caption runs the caption pipeline right away.
func (s *ImageService) Upload(ctx context.Context, userID, filename, contentType string, data []byte, userCaption *string) (*models.ImageAsset, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty upload: %w", core.ErrInvalidInput)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("%s is not an image: %w", contentType, core.ErrUnsupportedFormat)
	}

	id := uuid.NewString()
	url, err := s.storage.UploadFile(ctx, s.bucket, objectKey(userID, id, cleanFilename(filename)), data, contentType)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	img := &models.ImageAsset{
		ID:          id,
		UserID:      userID,
		SourceURI:   url,
		ContentType: contentType,
		Status:      models.ImageUploaded,
	}
	if err := s.db.CreateImage(ctx, img); err != nil {
		return nil, fmt.Errorf("failed to store image record: %w", err)
	}
	s.logger.Info("image uploaded", zap.String("image_id", id), zap.String("content_type", contentType))

	if userCaption != nil && strings.TrimSpace(*userCaption) != "" {
		return s.SubmitCaption(ctx, userID, id, userCaption, nil)
	}
	return img, nil
}

// Get returns an image owned by userID.
func (s *ImageService) Get(ctx context.Context, userID, id string) (*models.ImageAsset, error) {
	img, err := s.db.GetImageByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if img.UserID != userID {
		return nil, fmt.Errorf("image %s: %w", id, core.ErrNotFound)
	}
	return img, nil
}

// SubmitCaption records the supplied captions, combines them with the stored
// ones and indexes the combined caption.
func (s *ImageService) SubmitCaption(ctx context.Context, userID, id string, userCaption, aiCaption *string) (*models.ImageAsset, error) {
	img, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if img.Status == models.ImageCaptioning {
		return nil, fmt.Errorf("image %s is being captioned: %w", id, core.ErrInvalidTransition)
	}
	if userCaption != nil {
		img.UserCaption = userCaption
	}
	if aiCaption != nil {
		img.AICaption = aiCaption
	}
	combined := models.CombineCaptions(img.UserCaption, img.AICaption)
	if combined == "" {
		return nil, fmt.Errorf("no caption supplied: %w", core.ErrInvalidInput)
	}
	return s.index(ctx, img, combined)
}

// AutoCaption asks the configured captioner for a description and indexes it.
func (s *ImageService) AutoCaption(ctx context.Context, userID, id string) (*models.ImageAsset, error) {
	if s.captioner == nil {
		return nil, fmt.Errorf("no captioner configured: %w", core.ErrInvalidInput)
	}
	img, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	bucket, key := objectclient.ParseURL(img.SourceURI)
	data, err := s.storage.GetFile(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	caption, err := s.captioner.Caption(ctx, data, img.ContentType)
	if err != nil {
		return nil, fmt.Errorf("caption %s: %w", id, err)
	}
	return s.SubmitCaption(ctx, userID, id, nil, &caption)
}

func (s *ImageService) index(ctx context.Context, img *models.ImageAsset, combined string) (*models.ImageAsset, error) {
	from := img.Status
	img.Status = models.ImageCaptioning
	img.CombinedCaption = combined
	img.ErrorDetail = ""
	if err := s.db.UpdateImage(ctx, img, from); err != nil {
		return nil, err
	}

	vecs, err := s.embedder.EmbedTexts(ctx, []string{combined})
	if err == nil && len(vecs) != 1 {
		err = fmt.Errorf("embedder returned %d vectors for 1 caption: %w", len(vecs), core.ErrTransient)
	}
	if err == nil {
		err = s.captions.UpsertImage(ctx, img, vecs[0])
	}
	if err != nil {
		return nil, s.fail(ctx, img, err)
	}

	img.Status = models.ImageIndexed
	if err := s.db.UpdateImage(ctx, img, models.ImageCaptioning); err != nil {
		return nil, err
	}
	metrics.ImagesCaptioned.WithLabelValues("indexed").Inc()
	s.logger.Info("image caption indexed", zap.String("image_id", img.ID))
	return img, nil
}

func (s *ImageService) fail(ctx context.Context, img *models.ImageAsset, cause error) error {
	img.Status = models.ImageFailed
	img.ErrorDetail = cause.Error()
	metrics.ImagesCaptioned.WithLabelValues("failed").Inc()
	s.logger.Warn("image caption failed", zap.String("image_id", img.ID), zap.Error(cause))

	if err := s.db.UpdateImage(context.WithoutCancel(ctx), img, models.ImageCaptioning); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}
