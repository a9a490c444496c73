package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/checkeligibility/platform/pkg/common/config"
	"github.com/checkeligibility/platform/pkg/common/logger"
	"github.com/redis/go-redis/v9"
)

var (
	redisClient *redis.Client
	redisOnce   sync.Once
)

// GetRedis returns the process-wide client backing the work queue and the redis rate limiter.
// A failed ping is logged only; commands report their own errors once the server is reachable.
func GetRedis(cfg *config.Config) *redis.Client {
	redisOnce.Do(func() {
		addr := fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort)
		redisClient = redis.NewClient(&redis.Options{
			Addr:         addr,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			PoolSize:     cfg.RedisPoolSize,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		entry := logger.Log.WithFields(map[string]interface{}{"addr": addr, "db": cfg.RedisDB})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			entry.WithError(err).Error("Failed to connect to Redis")
			return
		}
		entry.Info("Connected to Redis")
	})

	return redisClient
}

func CloseRedis() error {
	if redisClient == nil {
		return nil
	}
	return redisClient.Close()
}
