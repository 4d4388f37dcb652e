package lockout

import (
	"context"
	"time"

	authdomain "github.com/AlibekovAA/authcore/internal/auth/domain"
)

type Policy struct {
	MaxFailedAttempts int
	LockDuration      time.Duration
	AttemptWindow     time.Duration
}

// AttemptStore holds per-identifier failure state. RecordFailure must be
// atomic per identifier: concurrent failures never lose an increment.
type AttemptStore interface {
	Get(ctx context.Context, identifier string) (authdomain.LoginAttemptState, bool, error)
	RecordFailure(ctx context.Context, identifier string, now time.Time, policy Policy) (authdomain.LoginAttemptState, error)
	Clear(ctx context.Context, identifier string) error
	ListLocked(ctx context.Context, now time.Time) ([]authdomain.LoginAttemptState, error)
	Sweep(ctx context.Context, now time.Time, window time.Duration) (int, error)
}
