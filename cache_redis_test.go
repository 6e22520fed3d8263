//go:build integration

package dsync_test

import (
	"context"
	"os"
	"testing"
	"time"

	dsync "github.com/dsync-im/dsync-go"
	"github.com/redis/go-redis/v9"
)

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("DSYNC_REDIS_ADDR_TEST")
	if addr == "" {
		t.Fatal("DSYNC_REDIS_ADDR_TEST environment variable is required")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestIntegration_RedisCacheRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c := dsync.NewRedisCache(redisClient(t), dsync.WithSnapshotTTL(time.Minute))
	conv := uniqueBody("conv")

	in := []dsync.Message{{
		ID:             "m1",
		ConversationID: conv,
		Body:           "cached hello",
		CreatedAt:      time.Now().UTC().Truncate(time.Millisecond),
		State:          dsync.StateCommitted,
	}}
	if err := c.Store(ctx, conv, in); err != nil {
		t.Fatalf("Store returned error: %v", err)
	}

	got, err := c.Load(ctx, conv)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "m1" || got[0].Body != "cached hello" {
		t.Fatalf("unexpected snapshot: %+v", got)
	}

	missing, err := c.Load(ctx, conv+"-missing")
	if err != nil {
		t.Fatalf("Load returned error for missing key: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing conversation, got %+v", missing)
	}
}
