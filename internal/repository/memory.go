package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"dispatchsync/internal/models"
)

type memoryEntry struct {
	value     models.Enrichment
	expiresAt time.Time
}

const memorySweepInterval = time.Minute

// MemoryDetailCache is the in-process DetailCache used when Redis is absent or down.
// Writes sweep expired entries at most once per sweep interval.
type MemoryDetailCache struct {
	details   sync.Map
	now       func() time.Time
	lastSweep atomic.Int64
}

func NewMemoryDetailCache() *MemoryDetailCache {
	r := &MemoryDetailCache{now: time.Now}
	r.lastSweep.Store(r.now().UnixNano())
	return r
}

func (r *MemoryDetailCache) GetDetails(ctx context.Context, jobIDs []int64) (map[int64]models.Enrichment, error) {
	now := r.now()
	found := make(map[int64]models.Enrichment, len(jobIDs))
	for _, id := range jobIDs {
		val, ok := r.details.Load(id)
		if !ok {
			continue
		}
		entry := val.(*memoryEntry)
		if now.After(entry.expiresAt) {
			r.details.Delete(id)
			continue
		}
		found[id] = entry.value
	}
	return found, nil
}

func (r *MemoryDetailCache) SetDetails(ctx context.Context, details map[int64]models.Enrichment, ttl time.Duration) error {
	now := r.now()
	r.maybeSweep(now)
	expiresAt := now.Add(ttl)
	for id, d := range details {
		r.details.Store(id, &memoryEntry{value: d, expiresAt: expiresAt})
	}
	return nil
}

func (r *MemoryDetailCache) maybeSweep(now time.Time) {
	last := r.lastSweep.Load()
	if now.UnixNano()-last < int64(memorySweepInterval) {
		return
	}
	if !r.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	r.sweep(now)
}

// sweep drops every expired entry.
func (r *MemoryDetailCache) sweep(now time.Time) {
	r.details.Range(func(key, val any) bool {
		if now.After(val.(*memoryEntry).expiresAt) {
			r.details.Delete(key)
		}
		return true
	})
}

// Len counts stored entries, expired ones included.
func (r *MemoryDetailCache) Len() int {
	n := 0
	r.details.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
