package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	"github.com/redis/go-redis/v9"
)

type Counters struct {
	mu      sync.Mutex
	ints    map[string]int64
	zsets   map[string]map[string]float64
	markers map[string]bool

	// FailOn rejects every write before anything changes.
	FailOn error
	// LoseReply applies the next adjustment and then reports this error,
	// like a reply dropped after the script ran. It fires once.
	LoseReply error
}

func NewCounters() *Counters {
	return &Counters{ints: map[string]int64{}, zsets: map[string]map[string]float64{}, markers: map[string]bool{}}
}

func (c *Counters) Apply(_ context.Context, adj redisx.Adjustment) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailOn != nil {
		return false, c.FailOn
	}
	if c.markers[adj.Marker] {
		return false, nil
	}
	c.markers[adj.Marker] = true

	c.ints[adj.Revenue] += adj.RevenueBy
	if adj.CountBy != 0 {
		c.ints[adj.Count] += adj.CountBy
		if cnt := c.ints[adj.Count]; cnt > 0 {
			c.ints[adj.Avg] = floorDiv(c.ints[adj.Revenue], cnt)
		}
	}
	if adj.RefundBy != 0 {
		c.ints[adj.Refunded] += adj.RefundBy
	}
	if adj.BoardBy != 0 {
		if c.zsets[adj.Board] == nil {
			c.zsets[adj.Board] = map[string]float64{}
		}
		c.zsets[adj.Board][adj.Member] += adj.BoardBy
	}

	if err := c.LoseReply; err != nil {
		c.LoseReply = nil
		return false, err
	}
	return true, nil
}

func (c *Counters) Get(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ints[key], nil
}

func (c *Counters) ZRevRangeWithScores(_ context.Context, key string, n int64) ([]redis.Z, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]redis.Z, 0, len(c.zsets[key]))
	for m, s := range c.zsets[key] {
		out = append(out, redis.Z{Member: m, Score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Member.(string) > out[j].Member.(string)
	})
	if int64(len(out)) > n {
		out = out[:n]
	}
	return out, nil
}

// Score returns a member's leaderboard score, 0 when absent.
func (c *Counters) Score(key, member string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.zsets[key][member]
}

// Snapshot copies every integer counter.
func (c *Counters) Snapshot() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.ints))
	for k, v := range c.ints {
		out[k] = v
	}
	return out
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
