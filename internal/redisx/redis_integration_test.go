//go:build integration

package redisx_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	"github.com/ariefcatur/go-order-fulfillment/internal/testinfra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisPrimitives(t *testing.T) {
	rdb := testinfra.Redis(t)
	ctx := context.Background()

	t.Run("lock", func(t *testing.T) {
		l := redisx.NewLocker(rdb)
		key := redisx.StockLock("p1")

		release, ok, err := l.TryAcquire(ctx, key, time.Second)
		require.NoError(t, err)
		require.True(t, ok)

		_, ok, err = l.TryAcquire(ctx, key, time.Second)
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = l.Acquire(ctx, key, time.Second, 50*time.Millisecond)
		assert.True(t, errors.Is(err, redisx.ErrLockTimeout))

		require.NoError(t, release(ctx))
		again, err := l.Acquire(ctx, key, time.Second, 50*time.Millisecond)
		require.NoError(t, err)
		require.NoError(t, again(ctx))
	})

	t.Run("stale release keeps new owner", func(t *testing.T) {
		l := redisx.NewLocker(rdb)
		key := redisx.StockLock("p2")

		stale, ok, err := l.TryAcquire(ctx, key, 50*time.Millisecond)
		require.NoError(t, err)
		require.True(t, ok)
		time.Sleep(100 * time.Millisecond)

		_, ok, err = l.TryAcquire(ctx, key, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, stale(ctx))
		n, err := rdb.Exists(ctx, key).Result()
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	})

	t.Run("counters", func(t *testing.T) {
		c := redisx.NewCounters(rdb)
		v, err := c.Get(ctx, "kpi:test:missing")
		require.NoError(t, err)
		assert.Zero(t, v)

		paid := func(member string, amount int64) redisx.Adjustment {
			return redisx.Adjustment{
				Marker:  redisx.KPIApplied("paid", member),
				Revenue: "kpi:test:revenue", RevenueBy: amount,
				Count: "kpi:test:count", CountBy: 1,
				Avg:   "kpi:test:avg",
				Board: "leaderboard:test", Member: member, BoardBy: float64(amount),
			}
		}
		applied, err := c.Apply(ctx, paid("a", 1000))
		require.NoError(t, err)
		assert.True(t, applied)
		applied, err = c.Apply(ctx, paid("b", 501))
		require.NoError(t, err)
		assert.True(t, applied)

		applied, err = c.Apply(ctx, paid("b", 501))
		require.NoError(t, err)
		assert.False(t, applied, "marker already set")

		v, err = c.Get(ctx, "kpi:test:revenue")
		require.NoError(t, err)
		assert.EqualValues(t, 1501, v)
		v, err = c.Get(ctx, "kpi:test:avg")
		require.NoError(t, err)
		assert.EqualValues(t, 750, v)

		applied, err = c.Apply(ctx, redisx.Adjustment{
			Marker:  redisx.KPIApplied("refund", "r1"),
			Revenue: "kpi:test:revenue", RevenueBy: -2000,
			Refunded: "kpi:test:refunded", RefundBy: 2000,
			Board: "leaderboard:test", Member: "a", BoardBy: -2000,
		})
		require.NoError(t, err)
		assert.True(t, applied)
		v, err = c.Get(ctx, "kpi:test:revenue")
		require.NoError(t, err)
		assert.EqualValues(t, -499, v)
		v, err = c.Get(ctx, "kpi:test:avg")
		require.NoError(t, err)
		assert.EqualValues(t, 750, v, "avg only moves with the order count")

		zs, err := c.ZRevRangeWithScores(ctx, "leaderboard:test", 1)
		require.NoError(t, err)
		require.Len(t, zs, 1)
		assert.Equal(t, "b", zs[0].Member)
	})

	t.Run("dedup", func(t *testing.T) {
		d := redisx.NewDedup(rdb)
		first, err := d.First(ctx, "notifier", "e1")
		require.NoError(t, err)
		assert.True(t, first)

		first, err = d.First(ctx, "notifier", "e1")
		require.NoError(t, err)
		assert.False(t, first)

		ttl, err := rdb.TTL(ctx, "dedup:notifier:e1").Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, 47*time.Hour)

		require.NoError(t, d.Forget(ctx, "notifier", "e1"))
		first, err = d.First(ctx, "notifier", "e1")
		require.NoError(t, err)
		assert.True(t, first)
	})

	t.Run("cache", func(t *testing.T) {
		c := redisx.NewCache(rdb)
		_, ok, err := c.Get(ctx, redisx.OrderStatus("o1"))
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, c.Set(ctx, redisx.OrderStatus("o1"), `{"status":"PAID"}`, time.Minute))
		v, ok, err := c.Get(ctx, redisx.OrderStatus("o1"))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, `{"status":"PAID"}`, v)
	})
}
