package blacklist

import (
	"context"
	"sync"
	"time"

	authdomain "github.com/AlibekovAA/authcore/internal/auth/domain"
)

type MemoryDenylist struct {
	mu      sync.RWMutex
	entries map[string]authdomain.BlacklistEntry
}

func NewMemoryDenylist() *MemoryDenylist {
	return &MemoryDenylist{
		entries: make(map[string]authdomain.BlacklistEntry),
	}
}

func (d *MemoryDenylist) Put(ctx context.Context, entry authdomain.BlacklistEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.entries[entry.TokenHash]; ok && existing.ExpiresAt.After(entry.ExpiresAt) {
		return nil
	}
	d.entries[entry.TokenHash] = entry
	return nil
}

func (d *MemoryDenylist) Contains(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entry, ok := d.entries[tokenHash]
	return ok && entry.ExpiresAt.After(now), nil
}

func (d *MemoryDenylist) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var removed int64
	for hash, entry := range d.entries {
		if !entry.ExpiresAt.After(now) {
			delete(d.entries, hash)
			removed++
		}
	}
	return removed, nil
}

func (d *MemoryDenylist) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}
