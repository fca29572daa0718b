package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kailas-cloud/podrag/internal/db"
	"github.com/kailas-cloud/podrag/internal/domain"
	"github.com/kailas-cloud/podrag/internal/domain/match"
)

// Payload fields stored with every indexed segment.
const (
	FieldTitle       = "title"
	FieldURL         = "url"
	FieldPublishedAt = "published_at"
	FieldNamespace   = "namespace"
)

var returnFields = []string{FieldTitle, FieldURL, FieldPublishedAt}

// store is the consumer interface for search operations (ISP).
type store interface {
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
}

// Options configures the index a Repo queries.
type Options struct {
	Backend     string // metrics label: redis, valkey, qdrant
	IndexName   string
	Namespace   string // empty disables the namespace filter
	VectorField string
	KeyPrefix   string // stripped from returned ids
	Dimensions  int    // 0 skips the dimension check
	MaxTopK     int
}

// Metrics are optional collectors, labelled by backend and status.
type Metrics struct {
	Requests *prometheus.CounterVec   // labels: backend, status
	Duration *prometheus.HistogramVec // labels: backend
}

// Repo is the similarity search client over one namespace of one index.
type Repo struct {
	store   store
	opts    Options
	metrics Metrics
}

// New creates a search repository.
func New(s store, opts Options, m Metrics) *Repo {
	return &Repo{store: s, opts: opts, metrics: m}
}

// Search returns at most topK matches ordered by descending score.
// Argument errors wrap domain.ErrInvalidInput; everything the backend does
// wrong wraps domain.ErrSearchFailure.
func (r *Repo) Search(ctx context.Context, vector []float32, topK int) ([]match.Match, error) {
	if topK < 1 || (r.opts.MaxTopK > 0 && topK > r.opts.MaxTopK) {
		return nil, fmt.Errorf("top_k must be in [1, %d], got %d: %w", r.opts.MaxTopK, topK, domain.ErrInvalidInput)
	}
	if r.opts.Dimensions > 0 && len(vector) != r.opts.Dimensions {
		return nil, fmt.Errorf("%w: expected %d, got %d: %w",
			domain.ErrVectorDimMismatch, r.opts.Dimensions, len(vector), domain.ErrSearchFailure)
	}

	q := &db.KNNQuery{
		IndexName:    r.opts.IndexName,
		VectorField:  r.opts.VectorField,
		Vector:       vector,
		K:            topK,
		ReturnFields: returnFields,
	}
	if r.opts.Namespace != "" {
		q.TagFilters = map[string]string{FieldNamespace: r.opts.Namespace}
	}

	start := time.Now()
	sr, err := r.store.SearchKNN(ctx, q)
	r.observe(start, err)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("search %s: %w: %w", r.opts.IndexName, domain.ErrTimeout, domain.ErrSearchFailure)
		}
		return nil, fmt.Errorf("search %s: %w: %w", r.opts.IndexName, err, domain.ErrSearchFailure)
	}

	return match.Rank(r.toMatches(sr), topK), nil
}

func (r *Repo) toMatches(sr *db.SearchResult) []match.Match {
	if sr == nil || len(sr.Entries) == 0 {
		return nil
	}
	matches := make([]match.Match, 0, len(sr.Entries))
	for _, e := range sr.Entries {
		id := strings.TrimPrefix(e.Key, r.opts.KeyPrefix)
		matches = append(matches, match.New(id, e.Score, match.Metadata{
			Title:       e.Fields[FieldTitle],
			URL:         e.Fields[FieldURL],
			PublishedAt: e.Fields[FieldPublishedAt],
		}))
	}
	return matches
}

func (r *Repo) observe(start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	if r.metrics.Requests != nil {
		r.metrics.Requests.WithLabelValues(r.opts.Backend, status).Inc()
	}
	if r.metrics.Duration != nil {
		r.metrics.Duration.WithLabelValues(r.opts.Backend).Observe(time.Since(start).Seconds())
	}
}
