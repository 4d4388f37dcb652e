package blacklist

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	authdomain "github.com/AlibekovAA/authcore/internal/auth/domain"
	"github.com/AlibekovAA/authcore/internal/common/clock"
	commonerrors "github.com/AlibekovAA/authcore/internal/common/errors"
	"github.com/AlibekovAA/authcore/internal/common/logger"
	"github.com/AlibekovAA/authcore/internal/common/resilience"
)

func newBreaker(threshold int32) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Threshold:  threshold,
		Timeout:    time.Second,
		ResetAfter: time.Minute,
		Name:       "test_blacklist",
	})
}

func newBlacklist(t *testing.T, store Denylist) (*Blacklist, *clock.MockClock) {
	t.Helper()
	log, _ := logger.New("", "test", "error")
	clk := clock.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	return New(store, newBreaker(50), clk, log), clk
}

func TestMemoryBlacklist_TrueUntilNaturalExpiry(t *testing.T) {
	bl, clk := newBlacklist(t, NewMemoryDenylist())
	ctx := context.Background()

	require.NoError(t, bl.Add(ctx, "token-a", "user-1", authdomain.ReasonLogout, clk.Now().Add(15*time.Minute)))

	found, err := bl.IsBlacklisted(ctx, "token-a")
	require.NoError(t, err)
	require.True(t, found)

	found, err = bl.IsBlacklisted(ctx, "token-b")
	require.NoError(t, err)
	require.False(t, found)

	clk.Advance(14 * time.Minute)
	found, err = bl.IsBlacklisted(ctx, "token-a")
	require.NoError(t, err)
	require.True(t, found)

	clk.Advance(time.Minute)
	found, err = bl.IsBlacklisted(ctx, "token-a")
	require.NoError(t, err)
	require.False(t, found)
}

func TestBlacklist_SkipsExpiredAndEmptyTokens(t *testing.T) {
	store := NewMemoryDenylist()
	bl, clk := newBlacklist(t, store)
	ctx := context.Background()

	require.NoError(t, bl.Add(ctx, "stale", "user-1", authdomain.ReasonLogout, clk.Now().Add(-time.Second)))
	require.NoError(t, bl.Add(ctx, "", "user-1", authdomain.ReasonLogout, clk.Now().Add(time.Hour)))

	require.Zero(t, store.Len())
}

func TestMemoryBlacklist_Sweep(t *testing.T) {
	store := NewMemoryDenylist()
	bl, clk := newBlacklist(t, store)
	ctx := context.Background()

	require.NoError(t, bl.Add(ctx, "short", "user-1", authdomain.ReasonLogout, clk.Now().Add(5*time.Minute)))
	require.NoError(t, bl.Add(ctx, "long", "user-1", authdomain.ReasonPasswordChange, clk.Now().Add(time.Hour)))

	clk.Advance(10 * time.Minute)
	removed, err := bl.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)
	require.Equal(t, 1, store.Len())

	found, err := bl.IsBlacklisted(ctx, "long")
	require.NoError(t, err)
	require.True(t, found)
}

func TestRedisBlacklist(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	bl, clk := newBlacklist(t, NewRedisDenylist(client))
	ctx := context.Background()

	require.NoError(t, bl.Add(ctx, "token-a", "user-1", authdomain.ReasonAdminRevoke, clk.Now().Add(15*time.Minute)))

	found, err := bl.IsBlacklisted(ctx, "token-a")
	require.NoError(t, err)
	require.True(t, found)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	require.Equal(t, 15*time.Minute, mr.TTL(keys[0]))

	mr.FastForward(15 * time.Minute)
	found, err = bl.IsBlacklisted(ctx, "token-a")
	require.NoError(t, err)
	require.False(t, found)

	removed, err := bl.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, removed)
}

type failingDenylist struct {
	err error
}

func (f failingDenylist) Put(context.Context, authdomain.BlacklistEntry) error { return f.err }

func (f failingDenylist) Contains(context.Context, string, time.Time) (bool, error) {
	return false, f.err
}

func (f failingDenylist) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, f.err
}

func TestBlacklist_StoreFailureIsServiceUnavailable(t *testing.T) {
	bl, clk := newBlacklist(t, failingDenylist{err: errors.New("connection reset")})
	ctx := context.Background()

	err := bl.Add(ctx, "token-a", "user-1", authdomain.ReasonLogout, clk.Now().Add(time.Minute))
	require.ErrorIs(t, err, commonerrors.ErrServiceUnavailable)

	_, err = bl.IsBlacklisted(ctx, "token-a")
	require.ErrorIs(t, err, commonerrors.ErrServiceUnavailable)
}
