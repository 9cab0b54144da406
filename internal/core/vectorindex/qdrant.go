package vectorindex

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/markdave123-py/Lumina/internal/core"
	"github.com/markdave123-py/Lumina/internal/models"
)

var _ Index = (*QdrantIndex)(nil)

// QdrantConfig holds connection settings for the managed Qdrant service.
type QdrantConfig struct {
	Host           string
	Port           int
	APIKey         string
	UseTLS         bool
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// NewQdrantClient dials Qdrant over gRPC.
func NewQdrantClient(cfg QdrantConfig) (*qdrant.Client, error) {
	cfg.ApplyDefaults()
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect qdrant %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return client, nil
}

// QdrantIndex is one Qdrant collection. The collection is created on first
// write, sized to the first vector it sees.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	logger     *zap.Logger

	mu    sync.Mutex
	ready bool
}

func NewQdrantIndex(client *qdrant.Client, collection string, logger *zap.Logger) *QdrantIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QdrantIndex{client: client, collection: collection, logger: logger}
}

func (q *QdrantIndex) ensureCollection(ctx context.Context, dim int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ready {
		return nil
	}

	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", q.collection, err)
	}
	if !exists {
		err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("create collection %s: %w", q.collection, err)
		}
		q.logger.Info("qdrant collection created", zap.String("collection", q.collection), zap.Int("dim", dim))
	}
	q.ready = true
	return nil
}

func (q *QdrantIndex) Upsert(ctx context.Context, doc *models.Document, chunks []models.Chunk, metadata []models.MetadataValue) error {
	if err := chunkPoints(chunks); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return q.Delete(ctx, doc.ID)
	}
	if err := q.ensureCollection(ctx, len(chunks[0].Embedding)); err != nil {
		return err
	}
	if err := q.Delete(ctx, doc.ID); err != nil {
		return err
	}

	meta := models.MetadataMap(metadata)
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, ch := range chunks {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(ch.ID),
			Vectors: qdrant.NewVectors(ch.Embedding...),
			Payload: pointPayload(doc.ID, doc.UserID, models.KindDocument, ch.Text, doc.SourceURI, meta),
		})
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert %s: %w", q.collection, err)
	}
	return nil
}

func (q *QdrantIndex) Delete(ctx context.Context, documentID string) error {
	q.mu.Lock()
	ready := q.ready
	q.mu.Unlock()
	if !ready {
		exists, err := q.client.CollectionExists(ctx, q.collection)
		if err != nil {
			return fmt.Errorf("check collection %s: %w", q.collection, err)
		}
		if !exists {
			return nil
		}
	}

	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatchKeyword(fieldOwnerID, documentID)},
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant delete %s: %w", documentID, err)
	}
	return nil
}

func (q *QdrantIndex) UpsertImage(ctx context.Context, img *models.ImageAsset, vector []float32) error {
	if len(vector) == 0 {
		return fmt.Errorf("image %s: %w: %v", img.ID, core.ErrInvalidInput, errEmptyVector)
	}
	if err := q.ensureCollection(ctx, len(vector)); err != nil {
		return err
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(img.ID),
			Vectors: qdrant.NewVectors(vector...),
			Payload: pointPayload(img.ID, img.UserID, models.KindImage, img.CombinedCaption, img.SourceURI, nil),
		}},
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert image %s: %w", img.ID, err)
	}
	return nil
}

func (q *QdrantIndex) DeleteImage(ctx context.Context, imageID string) error {
	return q.Delete(ctx, imageID)
}

func (q *QdrantIndex) Search(ctx context.Context, vector []float32, topK int, filter core.SearchFilter) ([]core.IndexHit, error) {
	if len(vector) == 0 {
		return nil, errEmptyVector
	}
	res, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         buildFilter(filter),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query %s: %w", q.collection, err)
	}

	out := make([]core.IndexHit, 0, len(res))
	for _, p := range res {
		out = append(out, hitFromPoint(p))
	}
	return out, nil
}

// pointPayload nests document metadata under "meta" so filters address it as "meta.<key>".
func pointPayload(ownerID, userID string, kind models.ResultKind, text, sourceURI string, meta map[string]string) map[string]*qdrant.Value {
	payload := map[string]*qdrant.Value{
		fieldOwnerID:   stringValue(ownerID),
		fieldUserID:    stringValue(userID),
		fieldKind:      stringValue(string(kind)),
		fieldSnippet:   stringValue(snippet(text)),
		fieldSourceURI: stringValue(sourceURI),
	}
	if len(meta) > 0 {
		fields := make(map[string]*qdrant.Value, len(meta))
		for k, v := range meta {
			fields[k] = stringValue(v)
		}
		payload["meta"] = &qdrant.Value{Kind: &qdrant.Value_StructValue{StructValue: &qdrant.Struct{Fields: fields}}}
	}
	return payload
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func buildFilter(filter core.SearchFilter) *qdrant.Filter {
	if len(filter.Metadata) == 0 && filter.UserID == "" {
		return nil
	}
	keys := make([]string, 0, len(filter.Metadata))
	for k := range filter.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conds := make([]*qdrant.Condition, 0, len(keys)+1)
	if filter.UserID != "" {
		conds = append(conds, qdrant.NewMatchKeyword(fieldUserID, filter.UserID))
	}
	for _, k := range keys {
		conds = append(conds, qdrant.NewMatchKeyword(metaPrefix+k, filter.Metadata[k]))
	}
	return &qdrant.Filter{Must: conds}
}

func hitFromPoint(p *qdrant.ScoredPoint) core.IndexHit {
	str := func(k string) string {
		if v, ok := p.GetPayload()[k]; ok {
			return v.GetStringValue()
		}
		return ""
	}
	id := str(fieldOwnerID)
	if id == "" {
		id = p.GetId().GetUuid()
	}
	return core.IndexHit{
		ID:        id,
		Kind:      models.ResultKind(str(fieldKind)),
		Score:     float64(p.GetScore()),
		Snippet:   str(fieldSnippet),
		SourceURI: str(fieldSourceURI),
	}
}
