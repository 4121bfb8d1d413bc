package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/mscottkey/fable-engine/internal/config"
	"github.com/mscottkey/fable-engine/internal/models"
)

const (
	mergeLeaseKeyPrefix = "session:lease:"
	stateKeyPrefix      = "session:state:"
	stateTTL            = 24 * time.Hour

	leasePollInterval = 50 * time.Millisecond
)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// AcquireLease takes the per-session merge lease, waiting until the current
// holder releases it or the context expires. The lease carries a TTL so a
// crashed holder cannot wedge the session forever. The returned release
// only deletes the lease if this caller still holds it.
func (s *RedisStore) AcquireLease(ctx context.Context, sessionID string, ttl time.Duration) (func(), error) {
	key := mergeLeaseKeyPrefix + sessionID
	token := uuid.NewString()

	for {
		ok, err := s.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lease setnx: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(leasePollInterval):
		}
	}

	release := func() {
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		held, err := s.client.Get(rctx, key).Result()
		if err == nil && held == token {
			s.client.Del(rctx, key)
		}
	}
	return release, nil
}

// CacheState writes the hot narrative state through to redis.
func (s *RedisStore) CacheState(ctx context.Context, state *models.SessionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, stateKeyPrefix+state.CampaignID, data, stateTTL).Err()
}

// CachedState reads the cached narrative state; redis.Nil means a cold
// cache, not an error the caller should surface.
func (s *RedisStore) CachedState(ctx context.Context, campaignID string) (*models.SessionState, error) {
	data, err := s.client.Get(ctx, stateKeyPrefix+campaignID).Result()
	if err != nil {
		return nil, err
	}
	var state models.SessionState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// DropState evicts the cached state, forcing the next read to hydrate from
// the relational store.
func (s *RedisStore) DropState(ctx context.Context, campaignID string) error {
	return s.client.Del(ctx, stateKeyPrefix+campaignID).Err()
}
