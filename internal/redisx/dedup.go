package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Dedup remembers event ids per consumer for TTLDedup.
type Dedup struct {
	rdb *redis.Client
}

func NewDedup(rdb *redis.Client) *Dedup { return &Dedup{rdb: rdb} }

// First reports whether this is the first time scope has seen id.
func (d *Dedup) First(ctx context.Context, scope, id string) (bool, error) {
	return d.rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, scope, id), "1", TTLDedup).Result()
}

// Forget undoes First so a failed handler can see the event again.
func (d *Dedup) Forget(ctx context.Context, scope, id string) error {
	return d.rdb.Del(ctx, fmt.Sprintf(KeyDedup, scope, id)).Err()
}
