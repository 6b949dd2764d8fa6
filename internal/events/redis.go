package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisQueueKey    = "anotherai:events"
	redisPollTimeout = 5 * time.Second
)

// RedisBroker queues jobs on a Redis list so several gateway replicas can
// share one event stream.
type RedisBroker struct {
	client *redis.Client
	key    string
}

// NewRedisBroker connects to the Redis instance named by the DSN.
func NewRedisBroker(ctx context.Context, dsn string) (*RedisBroker, error) {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse redis dsn: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisBroker{client: client, key: redisQueueKey}, nil
}

func (b *RedisBroker) Enqueue(ctx context.Context, payload []byte) error {
	if err := b.client.LPush(ctx, b.key, payload).Err(); err != nil {
		return fmt.Errorf("redis lpush: %w", err)
	}
	return nil
}

// Dequeue blocks up to the poll timeout and returns (nil, nil) when the
// queue stayed empty, letting the caller re-check its context.
func (b *RedisBroker) Dequeue(ctx context.Context) ([]byte, error) {
	res, err := b.client.BRPop(ctx, redisPollTimeout, b.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis brpop: %w", err)
	}
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("redis brpop returned %d values", len(res))
	}
	return []byte(res[1]), nil
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
