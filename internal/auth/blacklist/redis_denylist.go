package blacklist

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	authdomain "github.com/AlibekovAA/authcore/internal/auth/domain"
	"github.com/AlibekovAA/authcore/internal/common/constants"
)

const redisKeyPrefix = "auth:blacklist:"

// RedisDenylist lets Redis expire entries with the token itself.
type RedisDenylist struct {
	client redis.UniversalClient
}

func NewRedisDenylist(client redis.UniversalClient) *RedisDenylist {
	return &RedisDenylist{client: client}
}

func (d *RedisDenylist) Put(ctx context.Context, entry authdomain.BlacklistEntry) error {
	ttl := entry.ExpiresAt.Sub(entry.BlacklistedAt)
	if ttl <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, constants.RedisOpTimeout)
	defer cancel()

	value := string(entry.Reason) + ":" + entry.UserID
	if err := d.client.Set(ctx, redisKeyPrefix+entry.TokenHash, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}
	return nil
}

func (d *RedisDenylist) Contains(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RedisOpTimeout)
	defer cancel()

	n, err := d.client.Exists(ctx, redisKeyPrefix+tokenHash).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return n > 0, nil
}

func (d *RedisDenylist) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}
