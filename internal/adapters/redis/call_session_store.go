package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mindcare/realtime-service/internal/adapters/config"
	"github.com/mindcare/realtime-service/internal/domain"
	"github.com/mindcare/realtime-service/pkg/rediskeys"
	"github.com/redis/go-redis/v9"
)

// CallSessionStoreAdapter keeps active call markers as JSON values under
// call_session:<caller>, expiring after realtime.call_session_ttl so an
// abandoned call cannot leave a marker behind forever.
type CallSessionStoreAdapter struct {
	redisClient    *redis.Client
	configProvider config.Provider
	logger         domain.Logger
}

var _ domain.CallSessionStore = (*CallSessionStoreAdapter)(nil)

func NewCallSessionStoreAdapter(redisClient *redis.Client, configProvider config.Provider, logger domain.Logger) *CallSessionStoreAdapter {
	return &CallSessionStoreAdapter{
		redisClient:    redisClient,
		configProvider: configProvider,
		logger:         logger,
	}
}

func (a *CallSessionStoreAdapter) Start(ctx context.Context, session domain.CallSession) error {
	key := rediskeys.CallSessionKey(session.CallerID.String())
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal call session: %w", err)
	}
	ttl := a.configProvider.Get().Realtime.CallSessionTTL
	if err := a.redisClient.Set(ctx, key, payload, ttl).Err(); err != nil {
		a.logger.Error(ctx, "Redis SET failed for call session", "key", key, "error", err.Error())
		return fmt.Errorf("redis SET for key '%s' failed: %w", key, err)
	}
	a.logger.Debug(ctx, "Call session recorded", "key", key, "target", session.TargetID, "ttl", ttl.String())
	return nil
}

func (a *CallSessionStoreAdapter) End(ctx context.Context, callerID domain.Identity) (bool, error) {
	key := rediskeys.CallSessionKey(callerID.String())
	deleted, err := a.redisClient.Del(ctx, key).Result()
	if err != nil {
		a.logger.Error(ctx, "Redis DEL failed for call session", "key", key, "error", err.Error())
		return false, fmt.Errorf("redis DEL for key '%s' failed: %w", key, err)
	}
	a.logger.Debug(ctx, "Call session cleared", "key", key, "existed", deleted > 0)
	return deleted > 0, nil
}

func (a *CallSessionStoreAdapter) Get(ctx context.Context, callerID domain.Identity) (domain.CallSession, bool, error) {
	key := rediskeys.CallSessionKey(callerID.String())
	raw, err := a.redisClient.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.CallSession{}, false, nil
	}
	if err != nil {
		return domain.CallSession{}, false, fmt.Errorf("redis GET for key '%s' failed: %w", key, err)
	}
	var session domain.CallSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return domain.CallSession{}, false, fmt.Errorf("decode call session '%s': %w", key, err)
	}
	return session, true, nil
}
