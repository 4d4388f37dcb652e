package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	authdomain "github.com/AlibekovAA/authcore/internal/auth/domain"
)

// MemoryRefreshTokenRepository keeps refresh tokens in process. It serves a
// single instance only.
type MemoryRefreshTokenRepository struct {
	mu     sync.Mutex
	byHash map[string]*authdomain.RefreshToken
}

func NewMemoryRefreshTokenRepository() *MemoryRefreshTokenRepository {
	return &MemoryRefreshTokenRepository{
		byHash: make(map[string]*authdomain.RefreshToken),
	}
}

func (r *MemoryRefreshTokenRepository) Create(ctx context.Context, token authdomain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byHash[token.TokenHash]; exists {
		return ErrRefreshTokenDuplicate
	}
	t := token
	r.byHash[token.TokenHash] = &t
	return nil
}

func (r *MemoryRefreshTokenRepository) FindByTokenHash(ctx context.Context, hash string) (authdomain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byHash[hash]
	if !ok {
		return authdomain.RefreshToken{}, ErrRefreshTokenNotFound
	}
	return *t, nil
}

func (r *MemoryRefreshTokenRepository) FindByFamilyID(ctx context.Context, familyID string) ([]authdomain.RefreshToken, error) {
	return r.filter(func(t *authdomain.RefreshToken) bool { return t.FamilyID == familyID }), nil
}

func (r *MemoryRefreshTokenRepository) FindByUserID(ctx context.Context, userID string) ([]authdomain.RefreshToken, error) {
	return r.filter(func(t *authdomain.RefreshToken) bool { return t.UserID == userID }), nil
}

func (r *MemoryRefreshTokenRepository) filter(match func(*authdomain.RefreshToken) bool) []authdomain.RefreshToken {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []authdomain.RefreshToken
	for _, t := range r.byHash {
		if match(t) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *MemoryRefreshTokenRepository) ConsumeAndReplace(ctx context.Context, hash string, now time.Time, successor authdomain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byHash[hash]
	if !ok || !t.Usable(now) {
		return ErrRefreshTokenNotConsumed
	}
	for _, member := range r.byHash {
		if member.FamilyID == successor.FamilyID && member.IsRevoked {
			return ErrRefreshFamilyRevoked
		}
	}
	if _, exists := r.byHash[successor.TokenHash]; exists {
		return ErrRefreshTokenDuplicate
	}

	t.IsUsed = true
	s := successor
	r.byHash[successor.TokenHash] = &s
	return nil
}

func (r *MemoryRefreshTokenRepository) RevokeFamily(ctx context.Context, familyID string) (int64, error) {
	return r.revoke(func(t *authdomain.RefreshToken) bool { return t.FamilyID == familyID }), nil
}

func (r *MemoryRefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	return r.revoke(func(t *authdomain.RefreshToken) bool { return t.UserID == userID }), nil
}

func (r *MemoryRefreshTokenRepository) revoke(match func(*authdomain.RefreshToken) bool) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, t := range r.byHash {
		if match(t) && !t.IsRevoked {
			t.IsRevoked = true
			n++
		}
	}
	return n
}

func (r *MemoryRefreshTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for hash, t := range r.byHash {
		if t.ExpiresAt.Before(now) {
			delete(r.byHash, hash)
			n++
		}
	}
	return n, nil
}
