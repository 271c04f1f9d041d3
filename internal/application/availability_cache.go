package application

import (
	"sync"
	"time"

	"github.com/example/testcentre/internal/calendar"
)

// availabilityCache keeps recently derived slot calendars for display reads.
// Booking never consults it; writes invalidate the affected date.
type availabilityCache struct {
	mu         sync.RWMutex
	now        func() time.Time
	ttl        time.Duration
	maxEntries int
	entries    map[string]availabilityCacheEntry
}

type availabilityCacheEntry struct {
	day       DayAvailability
	expiresAt time.Time
}

func newAvailabilityCache(ttl time.Duration, maxEntries int, now func() time.Time) *availabilityCache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if maxEntries <= 0 {
		maxEntries = 128
	}
	if now == nil {
		now = time.Now
	}
	return &availabilityCache{
		now:        now,
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]availabilityCacheEntry),
	}
}

func (c *availabilityCache) Get(date string) (DayAvailability, bool) {
	if c == nil {
		return DayAvailability{}, false
	}
	c.mu.RLock()
	entry, ok := c.entries[date]
	c.mu.RUnlock()
	if !ok {
		return DayAvailability{}, false
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, date)
		c.mu.Unlock()
		return DayAvailability{}, false
	}
	return cloneDay(entry.day), true
}

func (c *availabilityCache) Store(day DayAvailability) {
	if c == nil {
		return
	}
	cloned := cloneDay(day)
	expiry := c.now().Add(c.ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cleanupLocked()
	if len(c.entries) >= c.maxEntries {
		c.evictOneLocked()
	}
	c.entries[day.Date] = availabilityCacheEntry{day: cloned, expiresAt: expiry}
}

// Forget drops the cached calendar of the given dates.
func (c *availabilityCache) Forget(dates ...string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	for _, date := range dates {
		delete(c.entries, date)
	}
	c.mu.Unlock()
}

func (c *availabilityCache) Invalidate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries = make(map[string]availabilityCacheEntry)
	c.mu.Unlock()
}

func (c *availabilityCache) cleanupLocked() {
	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}

func (c *availabilityCache) evictOneLocked() {
	for key := range c.entries {
		delete(c.entries, key)
		return
	}
}

func cloneDay(day DayAvailability) DayAvailability {
	out := day
	if len(day.Slots) > 0 {
		out.Slots = make([]calendar.Availability, len(day.Slots))
		copy(out.Slots, day.Slots)
	}
	return out
}
