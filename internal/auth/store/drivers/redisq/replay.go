// Package redisq implements the replay store on Redis. All session state is
// TTL-keyed so expired credentials leave nothing behind.
package redisq

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rentloop/rentloop/internal/auth/store"
)

const (
	usedTokenPrefix    = "used_refresh_token:"
	tokenFamilyPrefix  = "token_family:"
	userFamiliesPrefix = "user_families:"

	// opTimeout bounds each Redis round trip so a wedged connection surfaces
	// as ErrUnavailable instead of hanging a login.
	opTimeout = 3 * time.Second
)

type ReplayStore struct {
	rdb *redis.Client
}

var _ store.ReplayStore = (*ReplayStore)(nil)

func NewReplayStore(rdb *redis.Client) *ReplayStore {
	return &ReplayStore{rdb: rdb}
}

// MarkUsedIfAbsent maps directly onto SETNX: exactly one caller wins the
// insert, which is the whole replay-detection contract.
func (s *ReplayStore) MarkUsedIfAbsent(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	created, err := s.rdb.SetNX(ctx, usedTokenPrefix+jti, "1", ttl).Result()
	if err != nil {
		return false, unavailable("mark used", err)
	}
	return created, nil
}

func (s *ReplayStore) InvalidateFamily(ctx context.Context, family string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := s.rdb.Set(ctx, tokenFamilyPrefix+family, "invalidated", ttl).Err(); err != nil {
		return unavailable("invalidate family", err)
	}
	return nil
}

func (s *ReplayStore) IsFamilyInvalidated(ctx context.Context, family string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	n, err := s.rdb.Exists(ctx, tokenFamilyPrefix+family).Result()
	if err != nil {
		return false, unavailable("check family", err)
	}
	return n > 0, nil
}

func (s *ReplayStore) AddFamily(ctx context.Context, userID, family string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key := userFamiliesPrefix + userID
	if err := s.rdb.SAdd(ctx, key, family).Err(); err != nil {
		return unavailable("add family", err)
	}
	// The index lives as long as the longest-lived family in it.
	if err := s.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return unavailable("expire family index", err)
	}
	return nil
}

func (s *ReplayStore) FamiliesForUser(ctx context.Context, userID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	families, err := s.rdb.SMembers(ctx, userFamiliesPrefix+userID).Result()
	if err != nil {
		return nil, unavailable("list families", err)
	}
	return families, nil
}

func (s *ReplayStore) ClearFamilies(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := s.rdb.Del(ctx, userFamiliesPrefix+userID).Err(); err != nil {
		return unavailable("clear families", err)
	}
	return nil
}

func (s *ReplayStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *ReplayStore) Close() error {
	return s.rdb.Close()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", store.ErrUnavailable, op, err)
}
