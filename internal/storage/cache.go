package storage

import (
	"context"

	"github.com/mscottkey/fable-engine/internal/models"
)

// CachedSessionStore layers the redis hot copy of narrative state over the
// relational row. Reads hit redis first; writes go to MySQL and then
// refresh the cache. MySQL stays the source of truth.
type CachedSessionStore struct {
	*MySQLStore
	cache *RedisStore
}

func NewCachedSessionStore(db *MySQLStore, cache *RedisStore) *CachedSessionStore {
	return &CachedSessionStore{MySQLStore: db, cache: cache}
}

func (s *CachedSessionStore) GetSessionState(ctx context.Context, campaignID string) (*models.SessionState, error) {
	if state, err := s.cache.CachedState(ctx, campaignID); err == nil {
		return state, nil
	}
	state, err := s.MySQLStore.GetSessionState(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	_ = s.cache.CacheState(ctx, state)
	return state, nil
}

func (s *CachedSessionStore) SaveSessionState(ctx context.Context, state *models.SessionState) error {
	if err := s.MySQLStore.SaveSessionState(ctx, state); err != nil {
		// The row write failed; drop any stale hot copy.
		_ = s.cache.DropState(ctx, state.CampaignID)
		return err
	}
	_ = s.cache.CacheState(ctx, state)
	return nil
}
