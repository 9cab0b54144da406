package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"

	"github.com/markdave123-py/Lumina/internal/core"
	"github.com/markdave123-py/Lumina/internal/models"
)

var _ core.DbClient = (*DatabaseClient)(nil)

// DatabaseConfig holds the Postgres connection settings.
//
// URL:          postgres connection string (DATABASE_URL).
// SSLRootCert:  optional CA bundle; when set the connection is verified against it.
type DatabaseConfig struct {
	URL         string
	SSLRootCert string
}

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg DatabaseConfig) (*DatabaseClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	dsn := cfg.URL
	if cfg.SSLRootCert != "" {
		if _, err := os.Stat(cfg.SSLRootCert); err != nil {
			return nil, fmt.Errorf("ssl cert not accessible at %q: %w", cfg.SSLRootCert, err)
		}
		u, err := url.Parse(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		q := u.Query()
		q.Set("sslmode", "verify-ca")
		q.Set("sslrootcert", cfg.SSLRootCert)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

// DB exposes the pool so the pgvector index can share it.
func (c *DatabaseClient) DB() *sql.DB {
	return c.db
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Documents

const documentColumns = `id, user_id, file_name, source_uri, content_type, content_hash, status,
	failed_stage, chunk_ids, metadata, retry_count, retry_base, error_detail, created_at, updated_at`

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return fmt.Errorf("nil document: %w", core.ErrInvalidInput)
	}
	chunkIDs, metadata, err := encodeDocumentJSON(doc)
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO documents
			(id, user_id, file_name, source_uri, content_type, content_hash, status, chunk_ids, metadata, retry_count, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		ON CONFLICT (id) DO NOTHING
		RETURNING created_at, updated_at
	`
	err = c.db.QueryRowContext(ctx, q,
		doc.ID, doc.UserID, doc.FileName, doc.SourceURI, doc.ContentType, doc.ContentHash,
		string(doc.Status), chunkIDs, metadata, doc.RetryCount,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("document %s: %w", doc.ID, core.ErrAlreadyExists)
	}
	return err
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	d, err := scanDocument(c.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return d, err
}

func (c *DatabaseClient) ListDocumentsByUser(ctx context.Context, userID string) ([]models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := c.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) ListDocumentsByStatus(ctx context.Context, statuses ...models.DocumentStatus) ([]models.Document, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	marks := make([]string, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
		marks[i] = "$" + strconv.Itoa(i+1)
	}
	q := `SELECT ` + documentColumns + ` FROM documents WHERE status IN (` + strings.Join(marks, ", ") + `) ORDER BY updated_at`
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// CompareAndSetStatus only updates the row while its status still equals from.
func (c *DatabaseClient) CompareAndSetStatus(ctx context.Context, id string, from, to models.DocumentStatus, upd core.StatusUpdate) (*models.Document, error) {
	inc := 0
	if upd.IncrementRetry {
		inc = 1
	}
	q := `
		UPDATE documents
		SET status = $3,
		    error_detail = NULLIF($4, ''),
		    failed_stage = NULLIF($5, ''),
		    retry_count = retry_count + $6,
		    retry_base = CASE WHEN $7 THEN retry_count + $6 ELSE retry_base END,
		    updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING ` + documentColumns
	d, err := scanDocument(c.db.QueryRowContext(ctx, q, id, string(from), string(to), upd.ErrorDetail, string(upd.FailedStage), inc, upd.ResetBudget))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, c.casMiss(ctx, "documents", id, string(from))
	}
	return d, err
}

func (c *DatabaseClient) UpdateDocumentMetadata(ctx context.Context, id string, metadata []models.MetadataValue) error {
	if metadata == nil {
		metadata = []models.MetadataValue{}
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	res, err := c.db.ExecContext(ctx, `UPDATE documents SET metadata = $2, updated_at = now() WHERE id = $1`, id, b)
	if err != nil {
		return err
	}
	return expectOneRow(res, "document", id)
}

// DeleteDocument removes the record; chunks go with it through ON DELETE CASCADE.
func (c *DatabaseClient) DeleteDocument(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectOneRow(res, "document", id)
}

// Chunks

// ReplaceDocumentChunks deletes and re-inserts the chunks of a document in one
// transaction and keeps documents.chunk_ids in step.
func (c *DatabaseClient) ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []models.Chunk) error {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}

	const q = `
		INSERT INTO document_chunks
			(id, document_id, ordinal, byte_offset, byte_length, overlap_percent, text, token_count, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return err
	}
	defer stmt.Close()

	ids := make([]string, 0, len(chunks))
	for i := range chunks {
		ch := &chunks[i]
		var vec any
		if len(ch.Embedding) > 0 {
			vec = pgvector.NewVector(ch.Embedding)
		}
		if _, err := stmt.ExecContext(ctx,
			ch.ID, documentID, ch.Ordinal, ch.Offset, ch.Length, ch.OverlapPercent, ch.Text, ch.TokenCount, vec,
		); err != nil {
			return fmt.Errorf("insert chunk %d: %w", ch.Ordinal, err)
		}
		ids = append(ids, ch.ID)
	}

	b, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE documents SET chunk_ids = $2, updated_at = now() WHERE id = $1`, documentID, b)
	if err != nil {
		return err
	}
	if err := expectOneRow(res, "document", documentID); err != nil {
		return err
	}
	return tx.Commit()
}

func (c *DatabaseClient) GetChunksByDocument(ctx context.Context, documentID string) ([]models.Chunk, error) {
	const q = `
		SELECT id, document_id, ordinal, byte_offset, byte_length, overlap_percent, text, token_count, embedding, created_at
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY ordinal ASC
	`
	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Chunk
	for rows.Next() {
		var (
			ch  models.Chunk
			emb sql.Null[pgvector.Vector]
		)
		if err := rows.Scan(
			&ch.ID, &ch.DocumentID, &ch.Ordinal, &ch.Offset, &ch.Length, &ch.OverlapPercent,
			&ch.Text, &ch.TokenCount, &emb, &ch.CreatedAt,
		); err != nil {
			return nil, err
		}
		if emb.Valid {
			ch.Embedding = emb.V.Slice()
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// Images

const imageColumns = `id, user_id, source_uri, content_type, user_caption, ai_caption,
	combined_caption, status, error_detail, created_at, updated_at`

func (c *DatabaseClient) CreateImage(ctx context.Context, img *models.ImageAsset) error {
	if img == nil {
		return fmt.Errorf("nil image: %w", core.ErrInvalidInput)
	}
	const q = `
		INSERT INTO image_assets
			(id, user_id, source_uri, content_type, user_caption, ai_caption, combined_caption, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		ON CONFLICT (id) DO NOTHING
		RETURNING created_at, updated_at
	`
	err := c.db.QueryRowContext(ctx, q,
		img.ID, img.UserID, img.SourceURI, img.ContentType, img.UserCaption, img.AICaption,
		img.CombinedCaption, string(img.Status),
	).Scan(&img.CreatedAt, &img.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("image %s: %w", img.ID, core.ErrAlreadyExists)
	}
	return err
}

func (c *DatabaseClient) GetImageByID(ctx context.Context, id string) (*models.ImageAsset, error) {
	q := `SELECT ` + imageColumns + ` FROM image_assets WHERE id = $1`
	img, err := scanImage(c.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("image %s: %w", id, core.ErrNotFound)
	}
	return img, err
}

func (c *DatabaseClient) UpdateImage(ctx context.Context, img *models.ImageAsset, from models.ImageStatus) error {
	const q = `
		UPDATE image_assets
		SET user_caption = $3, ai_caption = $4, combined_caption = $5, status = $6,
		    error_detail = NULLIF($7, ''), updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING updated_at
	`
	err := c.db.QueryRowContext(ctx, q,
		img.ID, string(from), img.UserCaption, img.AICaption, img.CombinedCaption, string(img.Status), img.ErrorDetail,
	).Scan(&img.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c.casMiss(ctx, "image_assets", img.ID, string(from))
	}
	return err
}

// casMiss tells a missing row apart from a lost compare-and-set.
func (c *DatabaseClient) casMiss(ctx context.Context, table, id, from string) error {
	var exists bool
	q := `SELECT EXISTS (SELECT 1 FROM ` + table + ` WHERE id = $1)`
	if err := c.db.QueryRowContext(ctx, q, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%s %s: %w", table, id, core.ErrNotFound)
	}
	return fmt.Errorf("%s %s is no longer %s: %w", table, id, from, core.ErrInvalidTransition)
}
