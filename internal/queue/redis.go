package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	"github.com/redis/go-redis/v9"
)

// RedisQueue keeps due tasks in a ZSET scored by run-at time and in-flight
// tasks in a HASH so they can be recovered after a crash. A second ZSET
// records when each in-flight task was claimed.
type RedisQueue struct {
	client *redis.Client
}

// pop + tandai processing dalam satu script, crash di antaranya tidak
// menghilangkan task
var dequeueScript = redis.NewScript(`
local items = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, 1)
if #items == 0 then
	return false
end
local member = items[1]
redis.call("ZREM", KEYS[1], member)
local ok, t = pcall(cjson.decode, member)
if ok and type(t) == "table" and type(t.id) == "string" then
	redis.call("HSET", KEYS[2], t.id, member)
	redis.call("ZADD", KEYS[3], ARGV[1], t.id)
end
return member`)

// balikin task in-flight ke queue, no-op kalau sudah Complete
var recoverScript = redis.NewScript(`
redis.call("ZREM", KEYS[3], ARGV[1])
local raw = redis.call("HGET", KEYS[2], ARGV[1])
if not raw then
	return 0
end
redis.call("HDEL", KEYS[2], ARGV[1])
redis.call("ZADD", KEYS[1], ARGV[2], raw)
return 1`)

var queueKeys = []string{redisx.KeyTaskQueue, redisx.KeyTaskProcessing, redisx.KeyTaskClaimed}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func score(at time.Time) string { return strconv.FormatInt(at.UnixNano(), 10) }

func (q *RedisQueue) Enqueue(ctx context.Context, t Task, delay time.Duration) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	return q.client.ZAdd(ctx, redisx.KeyTaskQueue, redis.Z{
		Score:  float64(time.Now().Add(delay).UnixNano()),
		Member: string(data),
	}).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Task, error) {
	member, err := dequeueScript.Run(ctx, q.client, queueKeys, score(time.Now())).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}

	var t Task
	if err := json.Unmarshal([]byte(member), &t); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	return &t, nil
}

func (q *RedisQueue) Complete(ctx context.Context, t Task) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, redisx.KeyTaskProcessing, t.ID)
		pipe.ZRem(ctx, redisx.KeyTaskClaimed, t.ID)
		return nil
	})
	return err
}

// Reschedule re-queues t and clears its in-flight entry in one MULTI.
func (q *RedisQueue) Reschedule(ctx context.Context, t Task, delay time.Duration) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, redisx.KeyTaskQueue, redis.Z{
			Score:  float64(time.Now().Add(delay).UnixNano()),
			Member: string(data),
		})
		pipe.HDel(ctx, redisx.KeyTaskProcessing, t.ID)
		pipe.ZRem(ctx, redisx.KeyTaskClaimed, t.ID)
		return nil
	})
	return err
}

// RecoverPending puts in-flight tasks claimed more than olderThan ago back
// on the queue. Younger claims may still belong to a live worker. Use the
// overlap TTL: past it the overlap guard of the claim is gone too.
func (q *RedisQueue) RecoverPending(ctx context.Context, olderThan time.Duration) (int, error) {
	now := time.Now()
	ids, err := q.client.ZRangeByScore(ctx, redisx.KeyTaskClaimed, &redis.ZRangeBy{
		Min: "-inf",
		Max: score(now.Add(-olderThan)),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("read claimed: %w", err)
	}
	n := 0
	for _, id := range ids {
		moved, err := recoverScript.Run(ctx, q.client, queueKeys, id, score(now)).Int()
		if err != nil {
			return n, fmt.Errorf("recover %s: %w", id, err)
		}
		n += moved
	}
	return n, nil
}

func (q *RedisQueue) Size(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, redisx.KeyTaskQueue).Result()
}

func (q *RedisQueue) ProcessingCount(ctx context.Context) (int64, error) {
	return q.client.HLen(ctx, redisx.KeyTaskProcessing).Result()
}
