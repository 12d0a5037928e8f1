package redis

import (
	"context"
	"net"

	"github.com/mossy-p/video-chat-relay/config"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Connect opens a Redis client for the attachment store and verifies it
// answers.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	return client, nil
}
