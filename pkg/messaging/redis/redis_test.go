package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/caresync/pkg/circuitbreaker"
	"github.com/jwalitptl/caresync/pkg/messaging"
)

// unreachable points at a port nothing listens on.
func unreachable() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestPublishOpensBreakerWhenRedisIsDown(t *testing.T) {
	b := NewWithClient(unreachable(), zerolog.Nop())
	defer b.Close()
	ctx := context.Background()
	msg := messaging.Message{ID: "1", Type: "case_record.upserted", Payload: map[string]int{"version": 1}}

	for i := 0; i < 5; i++ {
		err := b.Publish(ctx, "caresync.events", msg)
		require.Error(t, err)
		assert.NotErrorIs(t, err, circuitbreaker.ErrOpen)
	}

	assert.ErrorIs(t, b.Publish(ctx, "caresync.events", msg), circuitbreaker.ErrOpen)
	assert.Error(t, b.Ping(ctx))
}

func TestNewRedisBrokerRejectsBadURL(t *testing.T) {
	_, err := NewRedisBroker(Config{URL: "://nope"}, zerolog.Nop())
	assert.Error(t, err)
}
