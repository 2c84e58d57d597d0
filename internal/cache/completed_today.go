package cache

import (
	"slices"
	"strings"
	"sync"
	"time"
)

const DayLayout = "2006-01-02"

type entryKey struct {
	wallet      string
	challengeID uint64
	day         string
}

// CompletedToday remembers which challenges were confirmed clocked in, keyed
// by calendar day in a fixed time zone. Entries from earlier days are never
// reported and are dropped by EvictStale.
type CompletedToday struct {
	mu      sync.Mutex
	loc     *time.Location
	now     func() time.Time
	entries map[entryKey]struct{}
}

func NewCompletedToday(loc *time.Location, now func() time.Time) *CompletedToday {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &CompletedToday{
		loc:     loc,
		now:     now,
		entries: make(map[entryKey]struct{}),
	}
}

// Day returns today's key in the cache's time zone.
func (c *CompletedToday) Day() string {
	return c.now().In(c.loc).Format(DayLayout)
}

// DaysAgo returns the day key n days before today.
func (c *CompletedToday) DaysAgo(n int) string {
	return c.now().In(c.loc).AddDate(0, 0, -n).Format(DayLayout)
}

func (c *CompletedToday) Location() *time.Location {
	return c.loc
}

func normalize(wallet string) string {
	return strings.ToLower(wallet)
}

// Mark records a clock-in for today. Marking twice is a no-op.
func (c *CompletedToday) Mark(wallet string, challengeID uint64) {
	key := entryKey{normalize(wallet), challengeID, c.Day()}
	c.mu.Lock()
	c.entries[key] = struct{}{}
	c.mu.Unlock()
}

func (c *CompletedToday) Has(wallet string, challengeID uint64) bool {
	key := entryKey{normalize(wallet), challengeID, c.Day()}
	c.mu.Lock()
	_, ok := c.entries[key]
	c.mu.Unlock()
	return ok
}

// Snapshot returns today's key and the sorted challenge ids marked today.
func (c *CompletedToday) Snapshot(wallet string) (string, []uint64) {
	day := c.Day()
	wallet = normalize(wallet)

	c.mu.Lock()
	ids := make([]uint64, 0)
	for k := range c.entries {
		if k.wallet == wallet && k.day == day {
			ids = append(ids, k.challengeID)
		}
	}
	c.mu.Unlock()

	slices.Sort(ids)
	return day, ids
}

// EvictStale removes entries of any day other than today and returns how many
// were dropped.
func (c *CompletedToday) EvictStale() int {
	day := c.Day()
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k := range c.entries {
		if k.day != day {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func (c *CompletedToday) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
