package redis

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mindcare/realtime-service/internal/adapters/config"
	"github.com/mindcare/realtime-service/internal/domain"
	"github.com/mindcare/realtime-service/internal/mocks"
	"github.com/mindcare/realtime-service/pkg/rediskeys"
)

// These tests need a Redis server; set TELEHEALTH_RT_TEST_REDIS_ADDR to run them.
// They use database 15 and flush it.
func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TELEHEALTH_RT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TELEHEALTH_RT_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("redis ping: %v", err)
	}
	client.FlushDB(ctx)
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

func TestCallSessionLifecycle(t *testing.T) {
	client := newTestClient(t)
	cfg := mocks.NewConfigProvider(func(c *config.Config) { c.Realtime.CallSessionTTL = time.Minute })
	store := NewCallSessionStoreAdapter(client, cfg, mocks.NewMockLogger())
	ctx := context.Background()

	session := domain.CallSession{
		CallerID:       "A",
		TargetID:       "B",
		ConsultationID: json.RawMessage(`77`),
		StartedAt:      time.Now().UTC().Truncate(time.Second),
	}
	if err := store.Start(ctx, session); err != nil {
		t.Fatal(err)
	}
	ttl := client.TTL(ctx, rediskeys.CallSessionKey("A")).Val()
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("ttl = %v", ttl)
	}

	got, ok, err := store.Get(ctx, "A")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if got.TargetID != "B" || string(got.ConsultationID) != "77" || !got.StartedAt.Equal(session.StartedAt) {
		t.Errorf("session = %+v", got)
	}

	if existed, err := store.End(ctx, "A"); err != nil || !existed {
		t.Fatalf("End = %v, %v", existed, err)
	}
	if existed, _ := store.End(ctx, "A"); existed {
		t.Error("second End reported an existing session")
	}
	if _, ok, _ := store.Get(ctx, "A"); ok {
		t.Error("session still present after End")
	}
}

func TestPresenceTouchAndClear(t *testing.T) {
	client := newTestClient(t)
	presence := NewPresenceAdapter(client, mocks.NewMockLogger())
	ctx := context.Background()

	if _, ok, err := presence.LastActive(ctx, "9"); err != nil || ok {
		t.Fatalf("unknown user: %v, %v", ok, err)
	}
	before := time.Now().Add(-time.Second)
	if err := presence.Touch(ctx, "9", 30*time.Second); err != nil {
		t.Fatal(err)
	}
	last, ok, err := presence.LastActive(ctx, "9")
	if err != nil || !ok || last.Before(before.Truncate(time.Second)) {
		t.Fatalf("LastActive = %v, %v, %v", last, ok, err)
	}

	if err := presence.Clear(ctx, "9"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := presence.LastActive(ctx, "9"); ok {
		t.Error("presence survived Clear")
	}
}
