package behavior

import (
	"math"
	"time"
)

// cacheKey identifies a movement by its endpoints quantized to the cache
// grid. Nearby starts and targets collapse to the same key so repeated
// moves between the same regions reuse one base curve.
type cacheKey struct {
	sx, sy int
	ex, ey int
}

// quantizeKey maps a start/end pair onto the cache grid.
func quantizeKey(start, end Vector2D, quantum int) cacheKey {
	if quantum < 1 {
		quantum = 1
	}
	q := float64(quantum)
	return cacheKey{
		sx: int(math.Round(start.X / q)),
		sy: int(math.Round(start.Y / q)),
		ex: int(math.Round(end.X / q)),
		ey: int(math.Round(end.Y / q)),
	}
}

// cachedPath holds the waypoint sequence first computed for a key. The
// entry is immutable once written: the engine derives a fresh variation from
// it on every retrieval and never hands out or modifies the stored slice.
type cachedPath struct {
	waypoints []Waypoint
	addedAt   time.Time
}

// pathCache is a bounded cache of base movement curves with time-based
// expiry. Entries are evicted oldest-inserted-first once the cache is over
// capacity; expired entries are dropped lazily on lookup and on insert.
//
// The cache belongs to a single TrajectoryEngine and is never shared across
// sessions, so it carries no locking.
type pathCache struct {
	entries  map[cacheKey]*cachedPath
	order    []cacheKey // insertion order, oldest first
	capacity int
	ttl      time.Duration
	nowFn    func() time.Time
}

func newPathCache(capacity int, ttl time.Duration) *pathCache {
	if capacity < 1 {
		capacity = 1
	}
	return &pathCache{
		entries:  make(map[cacheKey]*cachedPath, capacity),
		order:    make([]cacheKey, 0, capacity),
		capacity: capacity,
		ttl:      ttl,
		nowFn:    time.Now,
	}
}

// get returns the live entry for key, dropping it first if it has expired.
func (c *pathCache) get(key cacheKey) (*cachedPath, bool) {
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.expired(entry) {
		c.remove(key)
		return nil, false
	}
	return entry, true
}

// put stores the waypoint sequence for key, sweeping expired entries and
// then evicting the oldest insertions until the cache fits its capacity.
func (c *pathCache) put(key cacheKey, waypoints []Waypoint) {
	c.sweep()
	if _, ok := c.entries[key]; ok {
		c.remove(key)
	}
	c.entries[key] = &cachedPath{waypoints: waypoints, addedAt: c.nowFn()}
	c.order = append(c.order, key)
	for len(c.entries) > c.capacity {
		c.remove(c.order[0])
	}
}

func (c *pathCache) len() int {
	return len(c.entries)
}

// sweep removes expired entries. Insertion order doubles as age order, so
// the walk stops at the first live entry.
func (c *pathCache) sweep() {
	for len(c.order) > 0 {
		entry, ok := c.entries[c.order[0]]
		if ok && !c.expired(entry) {
			return
		}
		c.remove(c.order[0])
	}
}

func (c *pathCache) expired(entry *cachedPath) bool {
	return c.ttl > 0 && c.nowFn().Sub(entry.addedAt) > c.ttl
}

func (c *pathCache) remove(key cacheKey) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
