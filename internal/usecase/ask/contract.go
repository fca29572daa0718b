package ask

import (
	"context"

	"github.com/kailas-cloud/podrag/internal/domain/match"
)

// Searcher finds the segments nearest to a query vector.
type Searcher interface {
	Search(ctx context.Context, vector []float32, topK int) ([]match.Match, error)
}

// Generator answers a question from a context block.
type Generator interface {
	Generate(ctx context.Context, query, contextBlock string) (string, error)
}
