package search

import (
	"context"
	"testing"

	"github.com/kailas-cloud/podrag/internal/db"
)

// mockStore implements the consumer interface for tests.
type mockStore struct {
	searchKNNFn func(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
}

func (m *mockStore) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	if m.searchKNNFn != nil {
		return m.searchKNNFn(ctx, q)
	}
	return &db.SearchResult{}, nil
}

func testOptions() Options {
	return Options{
		Backend:     "redis",
		IndexName:   "podrag:segments:idx",
		Namespace:   "youtube-transcripts-embeddings",
		VectorField: "vector",
		KeyPrefix:   "podrag:segment:",
		Dimensions:  4,
		MaxTopK:     100,
	}
}

func newTestRepo(t *testing.T) (*Repo, *mockStore) {
	t.Helper()
	ms := &mockStore{}
	return New(ms, testOptions(), Metrics{}), ms
}

func testVector() []float32 {
	return []float32{0.1, 0.1, 0.1, 0.1}
}
