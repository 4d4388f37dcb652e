package lockout

import (
	"context"
	"sort"
	"sync"
	"time"

	authdomain "github.com/AlibekovAA/authcore/internal/auth/domain"
)

// MemoryAttemptStore is process local. Lockouts are not shared between
// instances; use RedisAttemptStore for multi-instance deployments.
type MemoryAttemptStore struct {
	mu     sync.Mutex
	states map[string]authdomain.LoginAttemptState
}

func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{
		states: make(map[string]authdomain.LoginAttemptState),
	}
}

func (s *MemoryAttemptStore) Get(ctx context.Context, identifier string) (authdomain.LoginAttemptState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[identifier]
	return state, ok, nil
}

func (s *MemoryAttemptStore) RecordFailure(ctx context.Context, identifier string, now time.Time, policy Policy) (authdomain.LoginAttemptState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[identifier]
	switch {
	case !ok:
		state = authdomain.LoginAttemptState{Identifier: identifier}
	case state.IsLocked(now):
		return state, nil
	case state.LockElapsed(now):
		state = authdomain.LoginAttemptState{Identifier: identifier}
	case policy.AttemptWindow > 0 && now.Sub(state.LastAttempt) > policy.AttemptWindow:
		state = authdomain.LoginAttemptState{Identifier: identifier}
	}

	state.FailedCount++
	state.LastAttempt = now
	if state.FailedCount >= policy.MaxFailedAttempts {
		until := now.Add(policy.LockDuration)
		state.LockedUntil = &until
	}

	s.states[identifier] = state
	return state, nil
}

func (s *MemoryAttemptStore) Clear(ctx context.Context, identifier string) error {
	s.mu.Lock()
	delete(s.states, identifier)
	s.mu.Unlock()
	return nil
}

func (s *MemoryAttemptStore) ListLocked(ctx context.Context, now time.Time) ([]authdomain.LoginAttemptState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var locked []authdomain.LoginAttemptState
	for _, state := range s.states {
		if state.IsLocked(now) {
			locked = append(locked, state)
		}
	}
	sort.Slice(locked, func(i, j int) bool { return locked[i].Identifier < locked[j].Identifier })
	return locked, nil
}

// Sweep drops elapsed locks and unlocked state idle for longer than window.
func (s *MemoryAttemptStore) Sweep(ctx context.Context, now time.Time, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, state := range s.states {
		if state.LockElapsed(now) || (!state.IsLocked(now) && now.Sub(state.LastAttempt) > window) {
			delete(s.states, id)
			removed++
		}
	}
	return removed, nil
}
