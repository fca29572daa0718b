package db

import (
	"context"
	"time"
)

// Store is the vector index facade every backend implements.
type Store interface {
	Pinger
	Searcher
	IndexInspector
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks backend connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Searcher runs nearest-neighbour queries.
type Searcher interface {
	SearchKNN(ctx context.Context, q *KNNQuery) (*SearchResult, error)
}

// IndexInspector reads index metadata at startup.
type IndexInspector interface {
	// IndexDimension returns the vector dimension of the named index,
	// 0 when the backend does not report it, or ErrIndexNotFound.
	IndexDimension(ctx context.Context, name string) (int, error)
}

// KVStore provides simple key-value operations. Only the Redis/Valkey backend has one.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
