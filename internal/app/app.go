package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/markdave123-py/Lumina/internal/config"
	"github.com/markdave123-py/Lumina/internal/core"
	db "github.com/markdave123-py/Lumina/internal/core/database"
	"github.com/markdave123-py/Lumina/internal/core/extraction"
	"github.com/markdave123-py/Lumina/internal/core/ingestion_engine"
	"github.com/markdave123-py/Lumina/internal/core/llm"
	"github.com/markdave123-py/Lumina/internal/core/metadata"
	objectclient "github.com/markdave123-py/Lumina/internal/core/object-client"
	"github.com/markdave123-py/Lumina/internal/core/retrieval"
	"github.com/markdave123-py/Lumina/internal/core/tracking"
	"github.com/markdave123-py/Lumina/internal/core/vectorindex"
	"github.com/markdave123-py/Lumina/internal/events"
	"github.com/markdave123-py/Lumina/internal/services"
)

// Collections backing each slice index kind.
var collections = map[string]string{
	"text":     "lumina_text_chunks",
	"captions": "lumina_image_captions",
	"images":   "lumina_raw_images",
}

type App struct {
	cfg      *config.Config
	logger   *zap.Logger
	Store    core.DbClient
	Ingestor *ingestion_engine.DocumentIngestor
	Server   *Server

	nc      *nats.Conn
	closers []func() error
}

// NewApp connects every backend selected by cfg and wires the services.
func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AIAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	sqlDB, err := a.initStore(appCtx)
	if err != nil {
		return nil, err
	}
	objects, err := a.initObjects(appCtx)
	if err != nil {
		return nil, err
	}
	keys, err := a.initKeyLibrary(appCtx)
	if err != nil {
		return nil, err
	}

	embedder, err := llm.NewGeminiEmbedder(appCtx, cfg.AIAPIKey, cfg.EmbedModel)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the embedder, %w", err)
	}
	a.closers = append(a.closers, embedder.Close)

	vision, err := llm.NewGeminiVision(appCtx, cfg.AIAPIKey, cfg.GenModel)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the vision model, %w", err)
	}
	a.closers = append(a.closers, vision.Close)

	indexes, err := a.initIndexes(sqlDB)
	if err != nil {
		return nil, err
	}

	registry, err := extraction.DefaultRegistry(logger)
	if err != nil {
		return nil, err
	}
	if err := registry.RegisterOCR(vision); err != nil {
		return nil, err
	}

	tracker := tracking.NewClient(a.Store, cfg.MaxRetries, logger)
	normalizer := metadata.NewNormalizer(keys, logger)

	ingCfg := ingestion_engine.IngestConfig{
		Chunk:          chunkConfig(cfg),
		BatchSize:      cfg.EmbedBatchSize,
		EmbedRPS:       cfg.EmbedRPS,
		OCRRPS:         cfg.OCRRPS,
		OCRBackend:     cfg.OCRBackend,
		ProcessTimeout: cfg.ProcessTimeout,
	}
	a.Ingestor = ingestion_engine.NewDocumentIngestor(
		tracker, a.Store, objects, registry, normalizer, embedder,
		[]core.IndexWriter{indexes["text"]}, ingCfg, logger,
	)

	var sink events.TriggerSink = a.Ingestor
	if cfg.NatsURL != "" {
		a.nc, err = events.Connect(cfg.NatsURL, logger)
		if err != nil {
			return nil, err
		}
		sink = events.NewPublisher(a.nc, logger)
	}

	retriever, err := a.initRetriever(indexes, embedder)
	if err != nil {
		return nil, err
	}

	docs := services.NewDocumentService(tracker, objects, cfg.BucketName, sink, a.Ingestor, logger)
	images := services.NewImageService(a.Store, objects, cfg.BucketName, embedder, indexes["captions"], logger).
		WithCaptioner(vision)

	a.Server = NewServer(cfg, docs, images, retriever, normalizer, logger)
	ok = true
	return a, nil
}

// chunkConfig maps CHUNK_OVERLAP_PERCENT=0 to an explicit no-overlap request;
// the chunker reads a zero overlap as unset.
func chunkConfig(cfg *config.Config) ingestion_engine.ChunkConfig {
	overlap := cfg.ChunkOverlapPercent
	if overlap == 0 {
		overlap = ingestion_engine.NoOverlap
	}
	return ingestion_engine.ChunkConfig{MaxTokens: cfg.ChunkMaxTokens, OverlapPercent: overlap}
}

func (a *App) initStore(ctx context.Context) (*sql.DB, error) {
	if a.cfg.DatabaseURL == "" {
		a.logger.Warn("DATABASE_URL not set; tracking records are kept in memory")
		a.Store = db.NewMemoryClient()
		return nil, nil
	}
	client, err := db.NewDatabaseClient(ctx, db.DatabaseConfig{URL: a.cfg.DatabaseURL, SSLRootCert: a.cfg.SslCertPath})
	if err != nil {
		return nil, err
	}
	a.Store = client
	a.closers = append(a.closers, client.Close)
	a.logger.Info("Database initialized and ready.")
	return client.DB(), nil
}

func (a *App) initObjects(ctx context.Context) (core.ObjectClient, error) {
	if a.cfg.AwsAccessKey == "" && a.cfg.AwsEndpoint == "" {
		a.logger.Warn("AWS credentials not set; uploads are kept in memory")
		return objectclient.NewMemoryObjectClient(), nil
	}
	client, err := objectclient.NewS3Client(ctx, objectclient.S3Config{
		Region:       a.cfg.AwsRegion,
		AccessKey:    a.cfg.AwsAccessKey,
		SecretKey:    a.cfg.AwsSecretKey,
		Bucket:       a.cfg.BucketName,
		Endpoint:     a.cfg.AwsEndpoint,
		UsePathStyle: a.cfg.AwsEndpoint != "",
	}, a.logger)
	if err != nil {
		return nil, err
	}
	a.logger.Info("Object client initialized and ready.")
	return client, nil
}

func (a *App) initKeyLibrary(ctx context.Context) (metadata.KeyLibrary, error) {
	if a.cfg.RedisAddr == "" {
		return metadata.NewMemoryKeyLibrary(a.cfg.KeyCardinalityCap), nil
	}
	lib, err := metadata.NewRedisKeyLibrary(ctx, metadata.RedisConfig{
		Addr:     a.cfg.RedisAddr,
		Password: a.cfg.RedisPass,
		DB:       a.cfg.RedisDB,
		KeyCap:   a.cfg.KeyCardinalityCap,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, lib.Close)
	return lib, nil
}

// initIndexes opens one collection per index kind on the configured backend.
func (a *App) initIndexes(sqlDB *sql.DB) (map[string]vectorindex.Index, error) {
	out := make(map[string]vectorindex.Index, len(collections))

	switch a.cfg.IndexBackend {
	case "pgvector":
		if sqlDB == nil {
			return nil, fmt.Errorf("pgvector index requires DATABASE_URL")
		}
		for kind, name := range collections {
			out[kind] = vectorindex.NewPgVectorIndex(sqlDB, name)
		}
	case "chromem":
		cdb, err := vectorindex.OpenChromemDB(vectorindex.ChromemConfig{Path: a.cfg.ChromemPath})
		if err != nil {
			return nil, err
		}
		if err := a.chromemCollections(cdb, out); err != nil {
			return nil, err
		}
	case "qdrant":
		client, err := vectorindex.NewQdrantClient(vectorindex.QdrantConfig{
			Host:   a.cfg.QdrantHost,
			Port:   a.cfg.QdrantPort,
			APIKey: a.cfg.QdrantAPIKey,
			UseTLS: a.cfg.QdrantTLS,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		for kind, name := range collections {
			out[kind] = vectorindex.NewQdrantIndex(client, name, a.logger)
		}
	default:
		return nil, fmt.Errorf("unknown index backend %q", a.cfg.IndexBackend)
	}

	a.logger.Info("Vector index ready", zap.String("backend", a.cfg.IndexBackend))
	return out, nil
}

func (a *App) chromemCollections(cdb *chromem.DB, out map[string]vectorindex.Index) error {
	for kind, name := range collections {
		idx, err := vectorindex.NewChromemIndex(cdb, name, a.logger)
		if err != nil {
			return err
		}
		out[kind] = idx
	}
	return nil
}

// initRetriever builds the configured slices in priority order. Slices over
// raw image vectors need an image embedder, which no provider offers yet, so
// they are skipped.
func (a *App) initRetriever(indexes map[string]vectorindex.Index, embedder core.EmbeddingProvider) (*retrieval.Retriever, error) {
	slices := make([]retrieval.Slice, 0, len(a.cfg.Slices))
	for _, sc := range a.cfg.Slices {
		if sc.Index == "images" {
			a.logger.Warn("slice skipped: no image embedder configured", zap.String("slice", sc.Name))
			continue
		}
		transform, err := retrieval.LookupTransform(sc.Transform)
		if err != nil {
			return nil, fmt.Errorf("slice %s: %w", sc.Name, err)
		}
		slices = append(slices, retrieval.Slice{
			Name:      sc.Name,
			Searcher:  indexes[sc.Index],
			Embedder:  embedder,
			Transform: transform,
			Weight:    sc.Weight,
			TopK:      sc.TopK,
			Timeout:   sc.Timeout,
		})
	}
	return retrieval.NewRetriever(slices, a.logger)
}

// Start runs the ingestion workers, the trigger subscription and the HTTP server.
// It blocks until ctx is done and the server has shut down.
func (a *App) Start(ctx context.Context) error {
	a.Ingestor.Start(ctx, a.cfg.Workers)

	if a.nc != nil {
		sub, err := events.Subscribe(ctx, a.nc, a.Ingestor, a.logger)
		if err != nil {
			return err
		}
		defer func() { _ = sub.Drain() }()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.Server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	return a.Server.Shutdown(shutdownCtx)
}

func (a *App) Close() {
	if a.nc != nil {
		a.nc.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("close failed", zap.Error(err))
	}
}
