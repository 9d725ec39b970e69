// Package session caches the last evaluated cohort per session id. Entries
// carry their last-update time and are removed either explicitly or by a
// periodic sweep once they exceed the retention threshold.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/clincohort/cohort-explorer/internal/patientset"
)

type entry struct {
	cohort    *patientset.Set
	updatedAt time.Time
}

// Cache is a mutex-guarded session→cohort map. Concurrent requests for
// distinct sessions never contend beyond the map lock; re-evaluating a
// session id overwrites its entry, last write wins.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	clock   func() time.Time
	logger  *slog.Logger
}

// NewCache creates an empty cache. clock is only overridden in tests; pass
// nil for time.Now.
func NewCache(clock func() time.Time) *Cache {
	if clock == nil {
		clock = time.Now
	}
	return &Cache{
		entries: make(map[string]entry),
		clock:   clock,
		logger:  slog.Default().With("component", "session-cache"),
	}
}

// Put stores or overwrites the cohort for a session id.
func (c *Cache) Put(sessionID string, cohort *patientset.Set) {
	now := c.clock()
	c.mu.Lock()
	c.entries[sessionID] = entry{cohort: cohort, updatedAt: now}
	c.mu.Unlock()
}

// Get returns the cached cohort for a session id. There is no eviction on
// read.
func (c *Cache) Get(sessionID string) (*patientset.Set, bool) {
	c.mu.RLock()
	e, ok := c.entries[sessionID]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return e.cohort, true
}

// Remove deletes a session's entry if present.
func (c *Cache) Remove(sessionID string) {
	c.mu.Lock()
	delete(c.entries, sessionID)
	c.mu.Unlock()
}

// Len returns the number of cached sessions.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep removes entries whose last update is older than retention and returns
// how many were removed. Stale ids are collected under the read lock first so
// the scan never holds the write lock across the whole map.
func (c *Cache) Sweep(retention time.Duration) int {
	cutoff := c.clock().Add(-retention)

	c.mu.RLock()
	var stale []string
	for id, e := range c.entries {
		if e.updatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	c.mu.RUnlock()

	if len(stale) == 0 {
		return 0
	}
	removed := 0
	c.mu.Lock()
	for _, id := range stale {
		// Re-check under the write lock; the entry may have been refreshed.
		if e, ok := c.entries[id]; ok && e.updatedAt.Before(cutoff) {
			delete(c.entries, id)
			removed++
		}
	}
	c.mu.Unlock()
	return removed
}

// RunSweeper sweeps once per interval until ctx is cancelled, reporting each
// sweep's removals to swept (which may be nil).
func (c *Cache) RunSweeper(ctx context.Context, interval, retention time.Duration, swept func(removed int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := c.Sweep(retention)
			if removed > 0 {
				c.logger.Info("expired stale sessions", "removed", removed, "retention", retention)
			}
			if swept != nil {
				swept(removed)
			}
		}
	}
}
