package domain

import "time"

type TokenState string

const (
	TokenStateActive  TokenState = "ACTIVE"
	TokenStateUsed    TokenState = "USED"
	TokenStateRevoked TokenState = "REVOKED"
	TokenStateExpired TokenState = "EXPIRED"
)

// RefreshToken is the persisted form of an opaque refresh secret. Only the
// SHA-256 of the secret is stored.
type RefreshToken struct {
	ID        string
	TokenHash string
	UserID    string
	UserType  UserType
	FamilyID  string
	IsUsed    bool
	IsRevoked bool
	ExpiresAt time.Time
	CreatedAt time.Time
}

// State reports the lifecycle state at now. Used wins over revoked so that a
// replayed token in a revoked family is still reported as reuse.
func (t RefreshToken) State(now time.Time) TokenState {
	switch {
	case t.IsUsed:
		return TokenStateUsed
	case t.IsRevoked:
		return TokenStateRevoked
	case !now.Before(t.ExpiresAt):
		return TokenStateExpired
	default:
		return TokenStateActive
	}
}

func (t RefreshToken) Usable(now time.Time) bool {
	return t.State(now) == TokenStateActive
}
