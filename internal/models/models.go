package models

import (
	"strings"
	"time"
)

// Document represents a user-uploaded artifact moving through the ingestion pipeline.
type Document struct {
	ID          string          `db:"id" json:"id"`
	UserID      string          `db:"user_id" json:"user_id"`
	FileName    string          `db:"file_name" json:"file_name"`
	SourceURI   string          `db:"source_uri" json:"source_uri"` // s3 URL of the stored bytes
	ContentType string          `db:"content_type" json:"content_type"`
	ContentHash string          `db:"content_hash" json:"content_hash"`
	Status      DocumentStatus  `db:"status" json:"status"`
	FailedStage DocumentStatus  `db:"failed_stage" json:"failed_stage,omitempty"` // stage to re-enter or the stage that failed
	ChunkIDs    []string        `db:"chunk_ids" json:"chunk_ids"`
	Metadata    []MetadataValue `db:"metadata" json:"metadata"`
	RetryCount  int             `db:"retry_count" json:"retry_count"`
	RetryBase   int             `db:"retry_base" json:"retry_base"` // RetryCount when the automatic budget last restarted
	ErrorDetail string          `db:"error_detail" json:"error_detail,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// Chunk represents one contiguous span of a document's normalized text.
type Chunk struct {
	ID             string    `db:"id" json:"id"`
	DocumentID     string    `db:"document_id" json:"document_id"`
	Ordinal        int       `db:"ordinal" json:"ordinal"`
	Offset         int       `db:"byte_offset" json:"offset"`
	Length         int       `db:"byte_length" json:"length"`
	OverlapPercent int       `db:"overlap_percent" json:"overlap_percent"`
	Text           string    `db:"text" json:"text"`
	TokenCount     int       `db:"token_count" json:"token_count"`
	Embedding      []float32 `db:"embedding" json:"-"` // pgvector column, nil until embedded
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// StatusView is the externally visible slice of a document's tracking record.
type StatusView struct {
	DocumentID  string         `json:"documentId"`
	Status      DocumentStatus `json:"status"`
	ErrorDetail string         `json:"errorDetail,omitempty"`
	RetryCount  int            `json:"retryCount"`
}

// View returns the status interface projection of d.
func (d *Document) View() StatusView {
	return StatusView{
		DocumentID:  d.ID,
		Status:      d.Status,
		ErrorDetail: d.ErrorDetail,
		RetryCount:  d.RetryCount,
	}
}

// Trigger builds the event that starts or resumes ingestion of d.
func (d *Document) Trigger() Trigger {
	return Trigger{
		DocumentID:  d.ID,
		SourceURI:   d.SourceURI,
		ContentType: d.ContentType,
		ContentHash: d.ContentHash,
	}
}

// Trigger is the event that starts or resumes ingestion of one document.
type Trigger struct {
	DocumentID  string `json:"documentId"`
	SourceURI   string `json:"sourceUri"`
	ContentType string `json:"contentType"`
	ContentHash string `json:"contentHash"`
}

// ImageStatus is the lifecycle state of an uploaded image.
type ImageStatus string

const (
	ImageUploaded   ImageStatus = "UPLOADED"
	ImageCaptioning ImageStatus = "CAPTIONING"
	ImageIndexed    ImageStatus = "INDEXED"
	ImageFailed     ImageStatus = "FAILED"
)

// ImageAsset represents an uploaded image and its captions.
type ImageAsset struct {
	ID              string      `db:"id" json:"id"`
	UserID          string      `db:"user_id" json:"user_id"`
	SourceURI       string      `db:"source_uri" json:"source_uri"`
	ContentType     string      `db:"content_type" json:"content_type"`
	UserCaption     *string     `db:"user_caption" json:"user_caption,omitempty"`
	AICaption       *string     `db:"ai_caption" json:"ai_caption,omitempty"`
	CombinedCaption string      `db:"combined_caption" json:"combined_caption"`
	Status          ImageStatus `db:"status" json:"status"`
	ErrorDetail     string      `db:"error_detail" json:"error_detail,omitempty"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at" json:"updated_at"`
}

// CombineCaptions joins the user and AI captions into the text that gets embedded.
// Both present yields "{user}. {ai}"; otherwise the single present value is used.
func CombineCaptions(user, ai *string) string {
	u := trimmed(user)
	a := trimmed(ai)
	switch {
	case u != "" && a != "":
		return u + ". " + a
	case u != "":
		return u
	default:
		return a
	}
}

func trimmed(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

// ResultKind tells callers what a retrieval result points at.
type ResultKind string

const (
	KindDocument ResultKind = "document"
	KindImage    ResultKind = "image"
)

// RetrievalResult is one fused, ranked search hit.
type RetrievalResult struct {
	ID              string     `json:"id"`
	Kind            ResultKind `json:"kind"`
	RawScore        float64    `json:"rawScore"`
	NormalizedScore float64    `json:"normalizedScore"`
	Score           float64    `json:"score"`
	Slice           string     `json:"slice"`
	Snippet         string     `json:"snippet"`
	Snippets        []string   `json:"snippets,omitempty"`
	SourceURI       string     `json:"sourceUri,omitempty"`
}
