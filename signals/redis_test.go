package signals_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-engine/signals"
	"github.com/warp/stock-engine/stock"
)

// newRedisClient skips the test when no server answers.
func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DialTimeout: 200 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisMedium_BroadcastAndCatchUp(t *testing.T) {
	client := newRedisClient(t)
	ctx := context.Background()
	medium := signals.NewRedisMedium(client, time.Minute, nil)
	topic := "test:signals:" + uuid.NewString()
	t.Cleanup(func() { client.Del(context.Background(), topic+":last") })

	a := signals.NewChannel(medium, topic, "a", nil)
	b := signals.NewChannel(medium, topic, "b", nil)

	got := make(chan signals.Signal, 1)
	stop, err := b.Observe(ctx, func(s signals.Signal) { got <- s })
	require.NoError(t, err)
	defer stop()

	// WHEN
	_, err = a.Broadcast(ctx, signals.Signal{Action: signals.ActionAdd, ItemCode: "A1"})
	require.NoError(t, err)

	// THEN: live delivery
	select {
	case s := <-got:
		assert.Equal(t, "A1", s.ItemCode)
	case <-time.After(2 * time.Second):
		t.Fatal("signal not delivered")
	}

	// AND: the last signal is readable by a late starter
	late := signals.NewChannel(medium, topic, "c", nil)
	applied, err := late.CatchUp(ctx, signals.DefaultCatchUpWindow, func(signals.Signal) {})
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestRedisMedium_GetMissing(t *testing.T) {
	client := newRedisClient(t)
	medium := signals.NewRedisMedium(client, 0, nil)

	_, ok, err := medium.Get(context.Background(), "test:missing:"+uuid.NewString())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisMedium_UnreachableIsUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	medium := signals.NewRedisMedium(client, 0, nil)

	err := medium.Set(context.Background(), "k", []byte("v"))
	assert.ErrorIs(t, err, stock.ErrStoreUnavailable)
}
