package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/markdave123-py/Lumina/internal/core"
	"github.com/markdave123-py/Lumina/internal/core/metadata"
	objectclient "github.com/markdave123-py/Lumina/internal/core/object-client"
	"github.com/markdave123-py/Lumina/internal/core/tracking"
	"github.com/markdave123-py/Lumina/internal/metrics"
	"github.com/markdave123-py/Lumina/internal/models"
)

var _ Ingestor = (*DocumentIngestor)(nil)

// NewDocumentIngestor constructs the ingestor with a bounded trigger queue.
func NewDocumentIngestor(
	tracker *tracking.Client,
	db core.DbClient,
	obj core.ObjectClient,
	extractor TextExtractor,
	normalizer *metadata.Normalizer,
	emb core.EmbeddingProvider,
	writers []core.IndexWriter,
	cfg IngestConfig,
	logger *zap.Logger,
) *DocumentIngestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &DocumentIngestor{
		tracker:    tracker,
		db:         db,
		obj:        obj,
		extractor:  extractor,
		normalizer: normalizer,
		embedder:   emb,
		writers:    writers,
		cfg:        cfg,
		embedLimit: newLimiter(cfg.EmbedRPS, cfg.EmbedBurst),
		ocrLimit:   newLimiter(cfg.OCRRPS, 1),
		sleep:      sleepCtx,
		now:        time.Now,
		logger:     logger,
		jobs:       make(chan models.Trigger, cfg.QueueSize),
	}
}

func newLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, burst)
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Start runs numWorkers goroutines reading from the trigger queue, plus the
// sweeper, until ctx is done.
func (i *DocumentIngestor) Start(ctx context.Context, numWorkers int) {
	if numWorkers <= 0 {
		numWorkers = DefaultWorkers
	}
	go i.sweepLoop(ctx)
	for w := 1; w <= numWorkers; w++ {
		go func(w int) {
			for {
				select {
				case <-ctx.Done():
					i.logger.Debug("ingestion worker shutting down", zap.Int("worker", w))
					return
				case t := <-i.jobs:
					i.logger.Debug("processing trigger", zap.String("document_id", t.DocumentID), zap.Int("worker", w))

					pctx, cancel := context.WithTimeout(ctx, i.cfg.ProcessTimeout)
					if err := i.Process(pctx, t); err != nil {
						i.logger.Error("ingestion failed", zap.String("document_id", t.DocumentID), zap.Error(err))
					}
					cancel()
				}
			}
		}(w)
	}
}

// Enqueue schedules a trigger, blocking while the queue is full.
func (i *DocumentIngestor) Enqueue(t models.Trigger) {
	i.jobs <- t
}

// Dispatch schedules a trigger unless ctx ends first.
func (i *DocumentIngestor) Dispatch(ctx context.Context, t models.Trigger) error {
	select {
	case i.jobs <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sweepLoop runs Sweep at startup and then every SweepInterval.
func (i *DocumentIngestor) sweepLoop(ctx context.Context) {
	t := time.NewTicker(i.cfg.SweepInterval)
	defer t.Stop()
	for {
		n, err := i.Sweep(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			i.logger.Warn("sweep failed", zap.Error(err))
		case n > 0:
			i.logger.Info("unsettled documents re-dispatched", zap.Int("documents", n))
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Sweep re-dispatches documents nobody is moving: parked retries older than the
// longest backoff, and any other unsettled document whose lease has expired.
// It returns the number of triggers dispatched.
func (i *DocumentIngestor) Sweep(ctx context.Context) (int, error) {
	docs, err := i.tracker.Unsettled(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unsettled documents: %w", err)
	}
	now := i.now()
	n := 0
	for idx := range docs {
		d := &docs[idx]
		grace := i.cfg.LeaseTimeout
		if d.Status == models.StatusRetryScheduled {
			grace = i.cfg.Backoff.Max
		}
		if now.Sub(d.UpdatedAt) < grace {
			continue
		}
		if err := i.Dispatch(ctx, d.Trigger()); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// leaseExpired reports whether doc has gone longer than LeaseTimeout without a status write.
func (i *DocumentIngestor) leaseExpired(doc *models.Document) bool {
	return i.now().Sub(doc.UpdatedAt) > i.cfg.LeaseTimeout
}

// inFlight reports whether a trigger may currently own doc.
func inFlight(s models.DocumentStatus) bool {
	return s.IsStage() || s == models.StatusRetryScheduled || s == models.StatusProcessing
}

var errLeaseExpired = errors.New("lease expired")

// Process drives one document from its current status to INDEXED or FAILED.
// It returns nil without doing work when the document is already indexed with
// the same content, is failed and waiting for an operator, or is owned by
// another trigger whose lease is still live. A stage whose lease expired is
// parked for retry and taken over.
func (i *DocumentIngestor) Process(ctx context.Context, t models.Trigger) error {
	if strings.TrimSpace(t.DocumentID) == "" {
		return fmt.Errorf("%w: trigger without document id", core.ErrInvalidInput)
	}
	log := i.logger.With(zap.String("document_id", t.DocumentID))

	doc, err := i.loadOrCreate(ctx, t)
	if err != nil {
		return err
	}
	if t.ContentHash != "" && doc.ContentHash != "" && t.ContentHash != doc.ContentHash {
		return fmt.Errorf("document %s has content %s, trigger carries %s: %w",
			doc.ID, doc.ContentHash, t.ContentHash, core.ErrInvalidTransition)
	}

	var from, stage models.DocumentStatus
	switch doc.Status {
	case models.StatusIndexed:
		log.Debug("already indexed")
		return nil
	case models.StatusFailed:
		log.Info("document failed, waiting for operator retry", zap.String("error", doc.ErrorDetail))
		return nil
	case models.StatusUploaded, models.StatusProcessing:
		from, stage = doc.Status, models.StatusExtracting
	case models.StatusRetryScheduled:
		from, stage = doc.Status, doc.FailedStage
	default:
		if !i.leaseExpired(doc) {
			log.Debug("document in flight elsewhere", zap.String("stage", string(doc.Status)))
			return nil
		}
		doc, err = i.reclaim(ctx, doc)
		if err != nil {
			if errors.Is(err, errLostOwnership) {
				log.Debug("lost claim", zap.String("stage", string(doc.Status)))
				return nil
			}
			return err
		}
		if doc.Status == models.StatusFailed {
			return nil
		}
		log.Warn("stalled document taken over", zap.String("stage", string(doc.FailedStage)))
		from, stage = doc.Status, doc.FailedStage
	}

	doc, err = i.tracker.Transition(ctx, doc.ID, from, stage, "")
	if err != nil {
		if errors.Is(err, core.ErrInvalidTransition) || errors.Is(err, core.ErrNotFound) {
			log.Debug("lost claim", zap.String("stage", string(stage)))
			return nil
		}
		return err
	}

	r := &run{doc: doc, budgetBase: doc.RetryBase, log: log}
	err = i.runPipeline(ctx, r, stage)
	if errors.Is(err, errLostOwnership) {
		log.Info("stopped: document deleted or claimed by another trigger", zap.Error(err))
		return nil
	}
	return err
}

// reclaim parks a stage whose owner stopped writing, or fails it once the
// automatic budget is spent. On a lost race it returns the stale doc with errLostOwnership.
func (i *DocumentIngestor) reclaim(ctx context.Context, doc *models.Document) (*models.Document, error) {
	stage := doc.Status
	to, detail := models.StatusRetryScheduled, errLeaseExpired.Error()
	if !i.tracker.CanAutoRetry(doc) {
		to, detail = models.StatusFailed, (&core.StageError{Stage: stage, Err: errLeaseExpired}).Error()
	}
	next, err := i.tracker.Transition(ctx, doc.ID, stage, to, detail)
	if err != nil {
		if errors.Is(err, core.ErrInvalidTransition) || errors.Is(err, core.ErrNotFound) {
			return doc, fmt.Errorf("%w: %w", errLostOwnership, err)
		}
		return doc, err
	}
	if to == models.StatusFailed {
		i.logger.Error("stalled document failed, retry budget spent",
			zap.String("document_id", doc.ID), zap.String("stage", string(stage)))
	}
	return next, nil
}

func (i *DocumentIngestor) loadOrCreate(ctx context.Context, t models.Trigger) (*models.Document, error) {
	doc, err := i.tracker.Get(ctx, t.DocumentID)
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	doc = &models.Document{
		ID:          t.DocumentID,
		SourceURI:   t.SourceURI,
		ContentType: t.ContentType,
		ContentHash: t.ContentHash,
		Status:      models.StatusUploaded,
	}
	if err := i.tracker.Create(ctx, doc); err != nil {
		if errors.Is(err, core.ErrAlreadyExists) {
			return i.tracker.Get(ctx, t.DocumentID)
		}
		return nil, err
	}
	return doc, nil
}

// run holds what one Process call has computed so far. Stages hydrate missing
// pieces themselves, so a run resumed at any stage has what it needs.
type run struct {
	doc        *models.Document
	budgetBase int
	log        *zap.Logger

	extracted *core.ExtractedText
	metadata  []models.MetadataValue
	chunks    []models.Chunk
}

func (i *DocumentIngestor) runPipeline(ctx context.Context, r *run, stage models.DocumentStatus) error {
	for stage != models.StatusIndexed {
		next, err := i.runStage(ctx, r, stage)
		if err != nil {
			return err
		}
		stage = next
	}
	return nil
}

// errLostOwnership marks a status write rejected because the document changed
// underneath the run (deleted, or claimed by another trigger).
var errLostOwnership = errors.New("document ownership lost")

// transition writes one status change for r and refreshes r.doc.
func (i *DocumentIngestor) transition(ctx context.Context, r *run, from, to models.DocumentStatus, detail string) error {
	doc, err := i.tracker.Transition(ctx, r.doc.ID, from, to, detail)
	if err != nil {
		if errors.Is(err, core.ErrInvalidTransition) || errors.Is(err, core.ErrNotFound) {
			return fmt.Errorf("%w: %w", errLostOwnership, err)
		}
		return err
	}
	r.doc = doc
	return nil
}

// runStage attempts stage until it succeeds, exhausts its retry budget or
// fails permanently, and records every outcome in the tracking store.
func (i *DocumentIngestor) runStage(ctx context.Context, r *run, stage models.DocumentStatus) (models.DocumentStatus, error) {
	for {
		start := time.Now()
		err := i.execStage(ctx, r, stage)

		if err == nil {
			observeStage(stage, "success", start)
			next := stage.Next()
			if terr := i.transition(ctx, r, stage, next, ""); terr != nil {
				if stage == models.StatusIndexing && errors.Is(terr, core.ErrNotFound) {
					// deleted while indexing: the upsert just written outlived the record
					i.dropPoints(context.WithoutCancel(ctx), r)
				}
				return "", terr
			}
			if next == models.StatusIndexed {
				metrics.DocumentsIndexed.Inc()
				r.log.Info("document indexed", zap.Int("chunks", len(r.chunks)))
			}
			return next, nil
		}

		if ctx.Err() != nil {
			// shutdown or timeout: park the document so the next trigger resumes this stage
			observeStage(stage, "retry", start)
			terr := i.transition(context.WithoutCancel(ctx), r, stage, models.StatusRetryScheduled, ctx.Err().Error())
			return "", errors.Join(ctx.Err(), terr)
		}

		attempt := r.doc.RetryCount - r.budgetBase
		if core.IsRetryable(err) && attempt < i.tracker.MaxRetries() {
			observeStage(stage, "retry", start)
			delay := i.cfg.Backoff.Delay(attempt, err)

			if terr := i.transition(ctx, r, stage, models.StatusRetryScheduled, err.Error()); terr != nil {
				return "", terr
			}
			metrics.RetriesScheduled.WithLabelValues(string(stage)).Inc()
			r.log.Warn("stage failed, retry scheduled",
				zap.String("stage", string(stage)),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", delay),
				zap.Error(err))

			if serr := i.sleep(ctx, delay); serr != nil {
				return "", serr
			}
			if terr := i.transition(ctx, r, models.StatusRetryScheduled, stage, ""); terr != nil {
				return "", terr
			}
			continue
		}

		observeStage(stage, "failed", start)
		stageErr := &core.StageError{Stage: stage, Err: err}
		if terr := i.transition(ctx, r, stage, models.StatusFailed, stageErr.Error()); terr != nil {
			return "", terr
		}
		r.log.Error("stage failed", zap.String("stage", string(stage)), zap.Error(err))
		return "", stageErr
	}
}

func observeStage(stage models.DocumentStatus, outcome string, start time.Time) {
	metrics.StageDuration.WithLabelValues(string(stage), outcome).Observe(time.Since(start).Seconds())
	metrics.StageOutcomes.WithLabelValues(string(stage), outcome).Inc()
}

func (i *DocumentIngestor) execStage(ctx context.Context, r *run, stage models.DocumentStatus) error {
	switch stage {
	case models.StatusExtracting:
		return i.extract(ctx, r)
	case models.StatusNormalizing:
		return i.normalize(ctx, r)
	case models.StatusChunking:
		return i.chunk(ctx, r)
	case models.StatusEmbedding:
		return i.embed(ctx, r)
	case models.StatusIndexing:
		return i.index(ctx, r)
	}
	return fmt.Errorf("%s is not a pipeline stage: %w", stage, core.ErrInvalidTransition)
}

func (i *DocumentIngestor) dropPoints(ctx context.Context, r *run) {
	for _, w := range i.writers {
		if err := w.Delete(ctx, r.doc.ID); err != nil {
			r.log.Warn("index entries of deleted document not removed", zap.Error(err))
		}
	}
}

// Delete removes a document's index entries, its record and chunks, and its stored bytes.
// A document a live trigger may still be writing is refused with ErrInvalidTransition.
func (i *DocumentIngestor) Delete(ctx context.Context, id string) error {
	doc, err := i.tracker.Get(ctx, id)
	if err != nil {
		return err
	}
	if inFlight(doc.Status) && !i.leaseExpired(doc) {
		return fmt.Errorf("document %s is %s: %w", id, doc.Status, core.ErrInvalidTransition)
	}
	for _, w := range i.writers {
		if err := w.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete %s from index: %w", id, err)
		}
	}
	if err := i.db.DeleteDocument(ctx, id); err != nil {
		return err
	}
	if i.obj != nil && doc.SourceURI != "" {
		bucket, key := objectclient.ParseURL(doc.SourceURI)
		if err := i.obj.DeleteFile(ctx, bucket, key); err != nil {
			i.logger.Warn("stored object not deleted", zap.String("document_id", id), zap.Error(err))
		}
	}
	i.logger.Info("document deleted", zap.String("document_id", id))
	return nil
}

// storeErr marks a persistence failure as transient unless it already carries a sentinel.
func storeErr(op string, err error) error {
	if errors.Is(err, core.ErrNotFound) || errors.Is(err, core.ErrInvalidTransition) || errors.Is(err, core.ErrInvalidInput) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, core.ErrTransient, err)
}
