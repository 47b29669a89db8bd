package db

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewRedis connects a go-redis client from a REDIS_URL style string
// ("redis://host:6379/0"). Redis holds only ephemeral moderation state
// (mute sets, removal flags), so losing it does not lose messages.
func NewRedis(ctx context.Context, redisURL string, logger *zap.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	logger.Info("redis connection established", zap.String("addr", opts.Addr))
	return client, nil
}
