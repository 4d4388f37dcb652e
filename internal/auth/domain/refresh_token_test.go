package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRefreshToken_State(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	base := RefreshToken{ExpiresAt: now.Add(time.Hour)}

	tests := []struct {
		name  string
		token RefreshToken
		want  TokenState
	}{
		{"active", base, TokenStateActive},
		{"used", RefreshToken{IsUsed: true, ExpiresAt: base.ExpiresAt}, TokenStateUsed},
		{"revoked", RefreshToken{IsRevoked: true, ExpiresAt: base.ExpiresAt}, TokenStateRevoked},
		{"used and revoked reads as used", RefreshToken{IsUsed: true, IsRevoked: true, ExpiresAt: base.ExpiresAt}, TokenStateUsed},
		{"expired", RefreshToken{ExpiresAt: now}, TokenStateExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.token.State(now))
		})
	}
	require.True(t, base.Usable(now))
}

func TestLoginAttemptState_Lock(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	until := now.Add(30 * time.Minute)
	s := LoginAttemptState{FailedCount: 5, LockedUntil: &until}

	require.True(t, s.IsLocked(now))
	require.False(t, s.LockElapsed(now))
	require.False(t, s.IsLocked(until))
	require.True(t, s.LockElapsed(until))
	require.False(t, LoginAttemptState{}.IsLocked(now))
}

func TestParseUserType(t *testing.T) {
	ut, ok := ParseUserType("internal")
	require.True(t, ok)
	require.Equal(t, UserTypeInternal, ut)

	_, ok = ParseUserType("admin")
	require.False(t, ok)
}
