package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Store is a byte cache keyed by string plus a set of counters that never
// expire. Get and Set treat backend failures as misses. Delete and the
// counter operations report them, since a lost bump leaves stale data behind.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte)
	Delete(ctx context.Context, key string) error

	// Counter reads a counter; an unknown one is 0.
	Counter(ctx context.Context, key string) (int64, error)
	// Incr bumps a counter and returns its new value.
	Incr(ctx context.Context, key string) (int64, error)
}

// HabitsGenKey holds the generation of one user's habit listing. Every
// habit write bumps it.
func HabitsGenKey(userID string) string {
	return "habits:gen:v1:user=" + userID
}

// HabitsKey is the cache key for one user's habit listing at a generation.
// A listing read before a bump lands under a key nobody reads again.
func HabitsKey(userID string, gen int64) string {
	return "habits:list:v2:user=" + userID + ":gen=" + strconv.FormatInt(gen, 10)
}

type Memory struct {
	mu       sync.RWMutex
	ttl      time.Duration
	m        map[string]entry
	counters map[string]int64
	now      func() time.Time
}

type entry struct {
	val []byte
	exp time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}

	return &Memory{
		ttl:      ttl,
		m:        make(map[string]entry),
		counters: make(map[string]int64),
		now:      time.Now,
	}
}

func (c *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	now := c.now()
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if now.After(e.exp) {
		c.mu.Lock()
		// re-check: a concurrent Set may have refreshed the entry
		if cur, ok := c.m[key]; ok && now.After(cur.exp) {
			delete(c.m, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	return e.val, true
}

func (c *Memory) Set(_ context.Context, key string, val []byte) {
	cp := make([]byte, len(val))
	copy(cp, val)

	c.mu.Lock()
	c.m[key] = entry{val: cp, exp: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *Memory) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
	return nil
}

func (c *Memory) Counter(_ context.Context, key string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[key], nil
}

func (c *Memory) Incr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[key]++
	return c.counters[key], nil
}

func (c *Memory) Clear() {
	c.mu.Lock()
	c.m = make(map[string]entry)
	c.counters = make(map[string]int64)
	c.mu.Unlock()
}
