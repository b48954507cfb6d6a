package cache

import (
	"context"
	"time"
)

// Cache is a JSON value cache. Profile snapshots are the main tenant;
// a miss always falls through to Postgres.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (hit bool, err error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}
