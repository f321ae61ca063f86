package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	activeRepoPrefix = "chat:active_repo:"
	activeRepoTTL    = 24 * time.Hour
)

// Store wraps the redis client. A nil *Store is a disabled cache: reads miss and writes are
// dropped.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(addr, password string, db int) *Store {
	return &Store{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		ttl: activeRepoTTL,
	}
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.rdb.Close()
}

func activeRepoKey(sessionID string) string {
	return activeRepoPrefix + sessionID
}

// GetActiveRepo reports the cached active repository of a session. A miss is not an error.
func (s *Store) GetActiveRepo(ctx context.Context, sessionID string) (string, bool, error) {
	if s == nil {
		return "", false, nil
	}
	v, err := s.rdb.Get(ctx, activeRepoKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) SetActiveRepo(ctx context.Context, sessionID, repo string) error {
	if s == nil {
		return nil
	}
	return s.rdb.Set(ctx, activeRepoKey(sessionID), repo, s.ttl).Err()
}
