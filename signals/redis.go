package signals

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/warp/stock-engine/stock"
	"go.uber.org/zap"
)

// =============================================================================
// REDIS MEDIUM - PUBLISH/SUBSCRIBE for live signals, SET/GET for the last one
// =============================================================================

type RedisMedium struct {
	Client *redis.Client
	// TTL expires persisted values. Zero keeps them forever.
	TTL    time.Duration
	Logger *zap.Logger
}

func NewRedisMedium(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisMedium {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisMedium{Client: client, TTL: ttl, Logger: logger}
}

func (r *RedisMedium) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := r.Client.Publish(ctx, topic, payload).Err(); err != nil {
		return stock.Unavailable("redis publish", err)
	}
	return nil
}

// Subscribe waits for the subscription to be confirmed, then delivers
// messages from a background goroutine until stop is called.
func (r *RedisMedium) Subscribe(ctx context.Context, topic string, fn func([]byte)) (func(), error) {
	ps := r.Client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, stock.Unavailable("redis subscribe", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ps.Channel() {
			fn([]byte(msg.Payload))
		}
	}()

	return func() {
		if err := ps.Close(); err != nil {
			r.Logger.Debug("closing redis subscription", zap.String("topic", topic), zap.Error(err))
		}
		<-done
	}, nil
}

func (r *RedisMedium) Set(ctx context.Context, key string, payload []byte) error {
	if err := r.Client.Set(ctx, key, payload, r.TTL).Err(); err != nil {
		return stock.Unavailable("redis set", err)
	}
	return nil
}

func (r *RedisMedium) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, stock.Unavailable("redis get", err)
	}
	return v, true, nil
}
