package meeting

import (
	"context"
	"sync"
	"time"
)

// CachedValidator memoizes successful lookups for a short TTL so a burst of
// joins to the same meeting performs a single upstream read. Errors are never
// cached.
type CachedValidator struct {
	inner Validator
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	active    bool
	expiresAt time.Time
}

func NewCachedValidator(inner Validator, ttl time.Duration) *CachedValidator {
	return &CachedValidator{
		inner:   inner,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (v *CachedValidator) IsActive(ctx context.Context, meetingID string) (bool, error) {
	if v.ttl <= 0 {
		return v.inner.IsActive(ctx, meetingID)
	}

	now := v.now()

	v.mu.Lock()
	entry, ok := v.entries[meetingID]
	v.mu.Unlock()
	if ok && now.Before(entry.expiresAt) {
		return entry.active, nil
	}

	active, err := v.inner.IsActive(ctx, meetingID)
	if err != nil {
		return false, err
	}

	v.mu.Lock()
	v.entries[meetingID] = cacheEntry{active: active, expiresAt: now.Add(v.ttl)}
	// Opportunistically drop expired entries so the map doesn't grow with
	// one-off meeting IDs.
	for id, e := range v.entries {
		if !now.Before(e.expiresAt) {
			delete(v.entries, id)
		}
	}
	v.mu.Unlock()

	return active, nil
}
