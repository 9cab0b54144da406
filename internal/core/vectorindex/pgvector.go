package vectorindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/markdave123-py/Lumina/internal/core"
	"github.com/markdave123-py/Lumina/internal/models"
)

var _ Index = (*PgVectorIndex)(nil)

// PgVectorIndex stores points in the index_points table, partitioned by collection.
type PgVectorIndex struct {
	db         *sql.DB
	collection string
}

func NewPgVectorIndex(db *sql.DB, collection string) *PgVectorIndex {
	return &PgVectorIndex{db: db, collection: collection}
}

const insertPointSQL = `
	INSERT INTO index_points (collection, id, owner_id, user_id, kind, snippet, source_uri, metadata, embedding, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
	ON CONFLICT (collection, id) DO UPDATE
	SET owner_id = EXCLUDED.owner_id, user_id = EXCLUDED.user_id, kind = EXCLUDED.kind, snippet = EXCLUDED.snippet,
	    source_uri = EXCLUDED.source_uri, metadata = EXCLUDED.metadata,
	    embedding = EXCLUDED.embedding, updated_at = now()
`

// Upsert replaces every point of doc with chunks in one transaction.
func (p *PgVectorIndex) Upsert(ctx context.Context, doc *models.Document, chunks []models.Chunk, metadata []models.MetadataValue) error {
	if err := chunkPoints(chunks); err != nil {
		return err
	}
	md, err := json.Marshal(models.MetadataMap(metadata))
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM index_points WHERE collection = $1 AND owner_id = $2`, p.collection, doc.ID); err != nil {
		return fmt.Errorf("clear points: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, insertPointSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ch := range chunks {
		if _, err := stmt.ExecContext(ctx,
			p.collection, ch.ID, doc.ID, doc.UserID, string(models.KindDocument), snippet(ch.Text), doc.SourceURI, md, pgvector.NewVector(ch.Embedding),
		); err != nil {
			return fmt.Errorf("insert point %s: %w", ch.ID, err)
		}
	}
	return tx.Commit()
}

func (p *PgVectorIndex) Delete(ctx context.Context, documentID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM index_points WHERE collection = $1 AND owner_id = $2`, p.collection, documentID)
	return err
}

func (p *PgVectorIndex) UpsertImage(ctx context.Context, img *models.ImageAsset, vector []float32) error {
	if len(vector) == 0 {
		return fmt.Errorf("image %s: %w: %v", img.ID, core.ErrInvalidInput, errEmptyVector)
	}
	_, err := p.db.ExecContext(ctx, insertPointSQL,
		p.collection, img.ID, img.ID, img.UserID, string(models.KindImage), snippet(img.CombinedCaption), img.SourceURI, []byte(`{}`), pgvector.NewVector(vector),
	)
	return err
}

func (p *PgVectorIndex) DeleteImage(ctx context.Context, imageID string) error {
	return p.Delete(ctx, imageID)
}

// Search ranks by cosine distance and reports similarity as 1 - distance.
func (p *PgVectorIndex) Search(ctx context.Context, vector []float32, topK int, filter core.SearchFilter) ([]core.IndexHit, error) {
	if len(vector) == 0 {
		return nil, errEmptyVector
	}
	md := filter.Metadata
	if md == nil {
		md = map[string]string{}
	}
	f, err := json.Marshal(md)
	if err != nil {
		return nil, err
	}

	const q = `
		SELECT owner_id, kind, snippet, source_uri, 1 - (embedding <=> $2) AS score
		FROM index_points
		WHERE collection = $1 AND metadata @> $3 AND ($5 = '' OR user_id = $5)
		ORDER BY embedding <=> $2
		LIMIT $4
	`
	rows, err := p.db.QueryContext(ctx, q, p.collection, pgvector.NewVector(vector), f, topK, filter.UserID)
	if err != nil {
		return nil, fmt.Errorf("pgvector search %s: %w", p.collection, err)
	}
	defer rows.Close()

	var out []core.IndexHit
	for rows.Next() {
		var (
			h    core.IndexHit
			kind string
		)
		if err := rows.Scan(&h.ID, &kind, &h.Snippet, &h.SourceURI, &h.Score); err != nil {
			return nil, err
		}
		h.Kind = models.ResultKind(kind)
		out = append(out, h)
	}
	return out, rows.Err()
}
