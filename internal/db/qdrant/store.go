// Package qdrant implements the index backend on top of Qdrant's gRPC API.
package qdrant

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kailas-cloud/podrag/internal/db"
)

var _ db.Store = (*Store)(nil)

const defaultPort = 6334

// Config holds connection parameters for a Qdrant store.
type Config struct {
	Addr   string // host[:port], gRPC port defaults to 6334
	APIKey string
	UseTLS bool
}

// client is the subset of *qdrant.Client the store calls.
type client interface {
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	GetCollectionInfo(ctx context.Context, collectionName string) (*qdrant.CollectionInfo, error)
	Close() error
}

// Store implements db.Store. Collections play the role of indexes; the
// namespace is a keyword payload field filtered on every query.
type Store struct {
	client client
}

// NewStore dials Qdrant. The underlying gRPC connection is shared by all requests.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("addr is required")
	}
	host, port, err := splitAddr(cfg.Addr)
	if err != nil {
		return nil, err
	}

	c, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return &Store{client: c}, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return &db.Error{Op: "qdrant.HealthCheck", Err: err}
	}
	return nil
}

// Close releases the gRPC connection.
func (s *Store) Close() {
	_ = s.client.Close()
}

// WaitForReady polls the health endpoint until Qdrant answers or timeout expires.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for qdrant: %w", ctx.Err())
		case <-ticker.C:
			if err := s.Ping(ctx); err == nil {
				return nil
			}
		}
	}
}

// SearchKNN runs a dense vector query against the collection named by q.IndexName.
func (s *Store) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	if q.IndexName == "" {
		return nil, fmt.Errorf("index name is required")
	}
	if len(q.Vector) == 0 {
		return nil, fmt.Errorf("vector is required")
	}
	if q.K <= 0 {
		return nil, fmt.Errorf("k must be positive")
	}

	req := &qdrant.QueryPoints{
		CollectionName: q.IndexName,
		Query:          qdrant.NewQuery(q.Vector...),
		Limit:          qdrant.PtrOf(uint64(q.K)),
		Filter:         buildFilter(q.TagFilters),
	}
	if q.VectorField != "" {
		req.Using = qdrant.PtrOf(q.VectorField)
	}
	if len(q.ReturnFields) > 0 {
		req.WithPayload = qdrant.NewWithPayloadInclude(q.ReturnFields...)
	} else {
		req.WithPayload = qdrant.NewWithPayload(true)
	}

	points, err := s.client.Query(ctx, req)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%s: %w", q.IndexName, db.ErrIndexNotFound)
		}
		return nil, &db.Error{Op: db.OpQdrantQuery, Err: err}
	}

	entries := make([]db.SearchEntry, 0, len(points))
	for _, p := range points {
		entries = append(entries, db.SearchEntry{
			Key:    pointID(p.GetId()),
			Score:  float64(p.GetScore()),
			Fields: payloadFields(p.GetPayload()),
		})
	}
	return &db.SearchResult{Total: len(entries), Entries: entries}, nil
}

// IndexDimension returns the size of the collection's dense vectors.
func (s *Store) IndexDimension(ctx context.Context, name string) (int, error) {
	info, err := s.client.GetCollectionInfo(ctx, name)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return 0, db.ErrIndexNotFound
		}
		return 0, &db.Error{Op: db.OpQdrantInfo, Err: err}
	}
	return int(info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()), nil
}

// buildFilter turns exact-match tag filters into keyword match conditions, in stable order.
func buildFilter(filters map[string]string) *qdrant.Filter {
	if len(filters) == 0 {
		return nil
	}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	must := make([]*qdrant.Condition, 0, len(keys))
	for _, k := range keys {
		must = append(must, qdrant.NewMatch(k, filters[k]))
	}
	return &qdrant.Filter{Must: must}
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

func payloadFields(payload map[string]*qdrant.Value) map[string]string {
	fields := make(map[string]string, len(payload))
	for k, v := range payload {
		if s, ok := valueString(v); ok {
			fields[k] = s
		}
	}
	return fields
}

func valueString(v *qdrant.Value) (string, bool) {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue, true
	case *qdrant.Value_IntegerValue:
		return strconv.FormatInt(kind.IntegerValue, 10), true
	case *qdrant.Value_DoubleValue:
		return strconv.FormatFloat(kind.DoubleValue, 'f', -1, 64), true
	case *qdrant.Value_BoolValue:
		return strconv.FormatBool(kind.BoolValue), true
	default:
		return "", false
	}
}

func splitAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		// no port given
		return addr, defaultPort, nil //nolint:nilerr // bare host is valid
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in %q: %w", addr, err)
	}
	return host, port, nil
}
