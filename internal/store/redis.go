package store

import (
	"context"

	redis "github.com/redis/go-redis/v9"
)

// NewClient connects to redis and verifies the connection with a ping.
func NewClient(redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opt)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return c, nil
}
