package common

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/go-redis/redis/v8"

	"github.com/nebulablock/rpdprobe/common/config"
	"github.com/nebulablock/rpdprobe/common/logger"
)

var RDB redis.Cmdable

var redisEnabled atomic.Bool

func IsRedisEnabled() bool {
	return redisEnabled.Load()
}

func SetRedisEnabled(enabled bool) {
	redisEnabled.Store(enabled)
}

// InitRedisClient connects to REDIS_CONN_STRING when it is set. Without it the
// usage ledger stays in process memory.
func InitRedisClient() error {
	if config.RedisConnString == "" {
		SetRedisEnabled(false)
		logger.Logger.Info("REDIS_CONN_STRING not set, usage ledger kept in memory")
		return nil
	}

	if config.RedisMasterName == "" {
		opt, err := redis.ParseURL(config.RedisConnString)
		if err != nil {
			return errors.Wrap(err, "parse Redis connection string")
		}
		RDB = redis.NewClient(opt)
		logger.Logger.Info("Redis is enabled")
	} else {
		RDB = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:      strings.Split(config.RedisConnString, ","),
			Password:   config.RedisPassword,
			MasterName: config.RedisMasterName,
		})
		logger.Logger.Info("Redis sentinel mode enabled")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := RDB.Ping(ctx).Err(); err != nil {
		SetRedisEnabled(false)
		return errors.Wrap(err, "Redis ping test failed")
	}

	SetRedisEnabled(true)
	return nil
}

// CloseRedisClient releases the connection pool opened by InitRedisClient.
func CloseRedisClient() error {
	closer, ok := RDB.(interface{ Close() error })
	if !ok || closer == nil {
		return nil
	}
	SetRedisEnabled(false)
	return errors.Wrap(closer.Close(), "close Redis client")
}
