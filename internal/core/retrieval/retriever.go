// Package retrieval fans a query out to every configured slice and fuses the
// per-slice results into a single ranked, deduplicated list.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/markdave123-py/Lumina/internal/core"
	"github.com/markdave123-py/Lumina/internal/metrics"
	"github.com/markdave123-py/Lumina/internal/models"
)

const (
	DefaultTopK         = 10
	DefaultSliceTimeout = 3 * time.Second
)

// Slice is one independently queryable index. Slices are configuration and
// are never mutated by request handling.
type Slice struct {
	Name      string
	Searcher  core.Searcher
	Embedder  core.EmbeddingProvider // may be nil when callers always supply a vector
	Transform Transform
	Weight    float64
	TopK      int
	Timeout   time.Duration
}

// Query is a single search request. UserID scopes every slice to the points
// written for that user.
type Query struct {
	UserID  string
	Text    string
	Vector  []float32
	Filters map[string]string
	TopK    int
}

type Retriever struct {
	slices []Slice
	logger *zap.Logger
}

// NewRetriever validates the slices and fills in defaults. Slice order is the
// tie-break priority.
func NewRetriever(slices []Slice, logger *zap.Logger) (*Retriever, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(slices) == 0 {
		return nil, fmt.Errorf("%w: no retrieval slices configured", core.ErrInvalidInput)
	}

	seen := make(map[string]bool, len(slices))
	out := make([]Slice, len(slices))
	for i, s := range slices {
		if s.Name == "" || s.Searcher == nil {
			return nil, fmt.Errorf("%w: slice %d needs a name and a searcher", core.ErrInvalidInput, i)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("%w: duplicate slice %q", core.ErrInvalidInput, s.Name)
		}
		if s.Weight < 0 {
			return nil, fmt.Errorf("%w: slice %q has negative weight", core.ErrInvalidInput, s.Name)
		}
		seen[s.Name] = true
		if s.Transform == nil {
			s.Transform = strings.TrimSpace
		}
		if s.TopK <= 0 {
			s.TopK = DefaultTopK
		}
		if s.Timeout <= 0 {
			s.Timeout = DefaultSliceTimeout
		}
		out[i] = s
	}
	return &Retriever{slices: out, logger: logger}, nil
}

// SliceNames returns the configured slices in priority order.
func (r *Retriever) SliceNames() []string {
	names := make([]string, len(r.slices))
	for i, s := range r.slices {
		names[i] = s.Name
	}
	return names
}

type sliceResult struct {
	hits []core.IndexHit
	err  error
}

// Search queries every slice in parallel and fuses what comes back. A failing
// slice is logged and left out; only a total failure is an error.
func (r *Retriever) Search(ctx context.Context, q Query) ([]models.RetrievalResult, error) {
	if strings.TrimSpace(q.Text) == "" && len(q.Vector) == 0 {
		return nil, fmt.Errorf("%w: query text or vector required", core.ErrInvalidInput)
	}
	topK := q.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	results := make([]sliceResult, len(r.slices))
	var wg sync.WaitGroup
	wg.Add(len(r.slices))
	for i := range r.slices {
		go func(i int) {
			defer wg.Done()
			hits, err := r.querySlice(ctx, r.slices[i], q)
			results[i] = sliceResult{hits: hits, err: err}
		}(i)
	}
	wg.Wait()

	var (
		ok   []int
		errs []error
	)
	for i, res := range results {
		name := r.slices[i].Name
		if res.err != nil {
			metrics.SliceFailures.WithLabelValues(name).Inc()
			r.logger.Warn("retrieval slice failed", zap.String("slice", name), zap.Error(res.err))
			errs = append(errs, fmt.Errorf("%s: %w", name, res.err))
			continue
		}
		ok = append(ok, i)
	}
	if len(ok) == 0 {
		return nil, fmt.Errorf("%w: %w", core.ErrRetrievalUnavailable, errors.Join(errs...))
	}

	perSlice := make([][]core.IndexHit, len(r.slices))
	for _, i := range ok {
		perSlice[i] = results[i].hits
	}
	fused := fuse(r.slices, perSlice)
	if len(fused) > topK {
		fused = fused[:topK]
	}

	r.logger.Debug("retrieval fused",
		zap.Int("slices_ok", len(ok)),
		zap.Int("slices_failed", len(errs)),
		zap.Int("results", len(fused)))
	return fused, nil
}

// querySlice runs under its own timeout so a slow slice never holds up or
// cancels its siblings. The slice is abandoned at the deadline even when its
// embedder or searcher ignores ctx.
func (r *Retriever) querySlice(parent context.Context, s Slice, q Query) ([]core.IndexHit, error) {
	ctx, cancel := context.WithTimeout(parent, s.Timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		metrics.SliceQueryDuration.WithLabelValues(s.Name).Observe(time.Since(start).Seconds())
	}()

	done := make(chan sliceResult, 1)
	go func() {
		hits, err := r.runSlice(ctx, s, q)
		done <- sliceResult{hits: hits, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		// a result that lands together with the deadline still loses
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return res.hits, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Retriever) runSlice(ctx context.Context, s Slice, q Query) ([]core.IndexHit, error) {
	vector := q.Vector
	if len(vector) == 0 {
		if s.Embedder == nil {
			return nil, fmt.Errorf("slice has no embedder and no query vector was supplied")
		}
		vecs, err := s.Embedder.EmbedTexts(ctx, []string{s.Transform(q.Text)})
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		if len(vecs) != 1 || len(vecs[0]) == 0 {
			return nil, fmt.Errorf("embed query: %w: empty embedding", core.ErrTransient)
		}
		vector = vecs[0]
	}

	return s.Searcher.Search(ctx, vector, s.TopK, core.SearchFilter{UserID: q.UserID, Metadata: q.Filters})
}

type candidate struct {
	result   models.RetrievalResult
	priority int
}

// fuse min-max normalizes each slice, applies its weight, merges hits sharing
// an ID and ranks the merged list. perSlice[i] belongs to slices[i]; nil
// entries (failed slices) contribute nothing.
func fuse(slices []Slice, perSlice [][]core.IndexHit) []models.RetrievalResult {
	merged := make(map[string]*candidate)
	order := make([]string, 0)

	for i, hits := range perSlice {
		if len(hits) == 0 {
			continue
		}
		lo, hi := hits[0].Score, hits[0].Score
		for _, h := range hits[1:] {
			lo = min(lo, h.Score)
			hi = max(hi, h.Score)
		}

		for _, h := range hits {
			norm := 1.0
			if hi > lo {
				norm = (h.Score - lo) / (hi - lo)
			}
			score := norm * slices[i].Weight

			c, exists := merged[h.ID]
			if !exists {
				c = &candidate{
					result: models.RetrievalResult{
						ID:              h.ID,
						Kind:            h.Kind,
						RawScore:        h.Score,
						NormalizedScore: norm,
						Score:           score,
						Slice:           slices[i].Name,
						SourceURI:       h.SourceURI,
					},
					priority: i,
				}
				merged[h.ID] = c
				order = append(order, h.ID)
			} else if score > c.result.Score {
				c.result.RawScore = h.Score
				c.result.NormalizedScore = norm
				c.result.Score = score
				c.result.Slice = slices[i].Name
				c.priority = i
				if h.SourceURI != "" {
					c.result.SourceURI = h.SourceURI
				}
			}
			addSnippet(&c.result, h.Snippet)
		}
	}

	out := make([]candidate, 0, len(order))
	for _, id := range order {
		out = append(out, *merged[id])
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].result.Score != out[b].result.Score {
			return out[a].result.Score > out[b].result.Score
		}
		if out[a].priority != out[b].priority {
			return out[a].priority < out[b].priority
		}
		return out[a].result.ID < out[b].result.ID
	})

	results := make([]models.RetrievalResult, len(out))
	for i, c := range out {
		c.result.Snippet = strings.Join(c.result.Snippets, " … ")
		results[i] = c.result
	}
	return results
}

func addSnippet(r *models.RetrievalResult, s string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return
	}
	for _, existing := range r.Snippets {
		if existing == s {
			return
		}
	}
	r.Snippets = append(r.Snippets, s)
}
