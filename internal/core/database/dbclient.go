package db

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/markdave123-py/Lumina/internal/core"
	"github.com/markdave123-py/Lumina/internal/models"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var (
		d           models.Document
		status      string
		failedStage sql.NullString
		errorDetail sql.NullString
		chunkIDs    []byte
		metadata    []byte
	)
	if err := row.Scan(
		&d.ID, &d.UserID, &d.FileName, &d.SourceURI, &d.ContentType, &d.ContentHash, &status,
		&failedStage, &chunkIDs, &metadata, &d.RetryCount, &d.RetryBase, &errorDetail, &d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	d.Status = models.DocumentStatus(status)
	d.FailedStage = models.DocumentStatus(failedStage.String)
	d.ErrorDetail = errorDetail.String

	if len(chunkIDs) > 0 {
		if err := json.Unmarshal(chunkIDs, &d.ChunkIDs); err != nil {
			return nil, fmt.Errorf("decode chunk_ids: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &d.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &d, nil
}

func encodeDocumentJSON(doc *models.Document) (chunkIDs, metadata []byte, err error) {
	ids := doc.ChunkIDs
	if ids == nil {
		ids = []string{}
	}
	md := doc.Metadata
	if md == nil {
		md = []models.MetadataValue{}
	}
	if chunkIDs, err = json.Marshal(ids); err != nil {
		return nil, nil, fmt.Errorf("encode chunk_ids: %w", err)
	}
	if metadata, err = json.Marshal(md); err != nil {
		return nil, nil, fmt.Errorf("encode metadata: %w", err)
	}
	return chunkIDs, metadata, nil
}

func scanImage(row rowScanner) (*models.ImageAsset, error) {
	var (
		img         models.ImageAsset
		status      string
		userCaption sql.NullString
		aiCaption   sql.NullString
		errorDetail sql.NullString
	)
	if err := row.Scan(
		&img.ID, &img.UserID, &img.SourceURI, &img.ContentType, &userCaption, &aiCaption,
		&img.CombinedCaption, &status, &errorDetail, &img.CreatedAt, &img.UpdatedAt,
	); err != nil {
		return nil, err
	}
	img.Status = models.ImageStatus(status)
	img.ErrorDetail = errorDetail.String
	if userCaption.Valid {
		img.UserCaption = &userCaption.String
	}
	if aiCaption.Valid {
		img.AICaption = &aiCaption.String
	}
	return &img, nil
}

func expectOneRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, core.ErrNotFound)
	}
	return nil
}
