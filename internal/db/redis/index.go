package redis

import (
	"context"
	"strings"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/podrag/internal/db"
)

// IndexDimension reads the DIM attribute of the first vector field via FT.INFO.
// Returns 0 when the reply carries no DIM (older search modules nest it differently).
func (s *Store) IndexDimension(ctx context.Context, name string) (int, error) {
	cmd := s.b().Arbitrary("FT.INFO").Args(name).Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		if isRedisErr(err, "unknown index name") || isRedisErr(err, "no such index") {
			return 0, db.ErrIndexNotFound
		}
		return 0, &db.Error{Op: db.OpIndexInfo, Err: err}
	}
	return findDim(raw), nil
}

// findDim walks the nested FT.INFO reply looking for a "dim" key/value pair.
func findDim(msgs []rueidis.RedisMessage) int {
	for i := range msgs {
		if nested, err := msgs[i].ToArray(); err == nil {
			if d := findDim(nested); d > 0 {
				return d
			}
			continue
		}
		key, err := msgs[i].ToString()
		if err != nil || !strings.EqualFold(key, "dim") || i+1 >= len(msgs) {
			continue
		}
		if d, err := msgs[i+1].AsInt64(); err == nil && d > 0 {
			return int(d)
		}
	}
	return 0
}
