package domain

import "time"

type LoginAttemptState struct {
	Identifier  string
	FailedCount int
	LastAttempt time.Time
	LockedUntil *time.Time
}

func (s LoginAttemptState) IsLocked(now time.Time) bool {
	return s.LockedUntil != nil && now.Before(*s.LockedUntil)
}

func (s LoginAttemptState) LockElapsed(now time.Time) bool {
	return s.LockedUntil != nil && !now.Before(*s.LockedUntil)
}
