package ledger

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/go-redis/redis/v8"

	"github.com/nebulablock/rpdprobe/common/helper"
)

// RedisLedger shares counts between prober processes. Keys expire at the next UTC midnight.
type RedisLedger struct {
	rdb redis.Cmdable
	now func() time.Time
}

func NewRedisLedger(rdb redis.Cmdable) *RedisLedger {
	return &RedisLedger{rdb: rdb, now: time.Now}
}

func (r *RedisLedger) Add(ctx context.Context, credential string, n int64) error {
	now := r.now()
	key := dailyKey(credential, now)

	pipe := r.rdb.TxPipeline()
	pipe.IncrBy(ctx, key, n)
	pipe.ExpireAt(ctx, key, helper.NextUTCMidnight(now))
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "increment usage %s", key)
	}
	return nil
}

func (r *RedisLedger) Count(ctx context.Context, credential string) (int64, error) {
	key := dailyKey(credential, r.now())
	n, err := r.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "read usage %s", key)
	}
	return n, nil
}
