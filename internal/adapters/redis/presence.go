package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/mindcare/realtime-service/internal/domain"
	"github.com/mindcare/realtime-service/pkg/rediskeys"
	"github.com/redis/go-redis/v9"
)

// PresenceAdapter stores the last activity of a notification client as a
// unix timestamp. The key expires on its own when the client goes quiet.
type PresenceAdapter struct {
	redisClient *redis.Client
	logger      domain.Logger
}

var _ domain.PresenceRecorder = (*PresenceAdapter)(nil)

func NewPresenceAdapter(redisClient *redis.Client, logger domain.Logger) *PresenceAdapter {
	return &PresenceAdapter{redisClient: redisClient, logger: logger}
}

func (a *PresenceAdapter) Touch(ctx context.Context, id domain.Identity, ttl time.Duration) error {
	key := rediskeys.NotificationPresenceKey(id.String())
	now := time.Now().Unix()
	if err := a.redisClient.Set(ctx, key, now, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET for key '%s' failed: %w", key, err)
	}
	a.logger.Debug(ctx, "Presence refreshed", "key", key, "timestamp", now, "ttl", ttl.String())
	return nil
}

func (a *PresenceAdapter) Clear(ctx context.Context, id domain.Identity) error {
	key := rediskeys.NotificationPresenceKey(id.String())
	if err := a.redisClient.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis DEL for key '%s' failed: %w", key, err)
	}
	return nil
}

// LastActive returns when id was last seen, or false if the key has expired.
func (a *PresenceAdapter) LastActive(ctx context.Context, id domain.Identity) (time.Time, bool, error) {
	key := rediskeys.NotificationPresenceKey(id.String())
	ts, err := a.redisClient.Get(ctx, key).Int64()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis GET for key '%s' failed: %w", key, err)
	}
	return time.Unix(ts, 0).UTC(), true, nil
}
