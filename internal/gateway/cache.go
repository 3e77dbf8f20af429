package gateway

import (
	"context"
	"encoding/json"

	"github.com/geocoder89/habithub/internal/cache"
	"github.com/geocoder89/habithub/internal/domain/habit"
)

// listGeneration must be read before the store so a write that lands during
// the read moves later lookups to a fresh key. ok is false when the listing
// must bypass the cache.
func (g *Gateway) listGeneration(ctx context.Context, userID string) (int64, bool) {
	if g.cache == nil {
		return 0, false
	}

	gen, err := g.cache.Counter(ctx, cache.HabitsGenKey(userID))
	if err != nil {
		g.log.WarnContext(ctx, "habit cache generation unavailable", "err", err)
		g.prom.RecordCacheError("generation")
		return 0, false
	}

	return gen, true
}

func (g *Gateway) cachedList(ctx context.Context, userID string, gen int64) ([]habit.Habit, bool) {
	key := cache.HabitsKey(userID, gen)

	raw, ok := g.cache.Get(ctx, key)
	if !ok {
		g.prom.RecordCache(false)
		return nil, false
	}

	var list []habit.Habit
	if err := json.Unmarshal(raw, &list); err != nil {
		g.log.WarnContext(ctx, "dropping unreadable cache entry", "err", err)
		if err := g.cache.Delete(ctx, key); err != nil {
			g.prom.RecordCacheError("evict")
		}
		g.prom.RecordCache(false)
		return nil, false
	}

	g.prom.RecordCache(true)
	return list, true
}

func (g *Gateway) storeList(ctx context.Context, userID string, gen int64, list []habit.Habit) {
	raw, err := json.Marshal(list)
	if err != nil {
		return
	}

	g.cache.Set(ctx, cache.HabitsKey(userID, gen), raw)
}

// invalidate runs after every habit write. A failed bump leaves the previous
// listing visible until its TTL runs out.
func (g *Gateway) invalidate(ctx context.Context, userID string) {
	if g.cache == nil {
		return
	}

	if _, err := g.cache.Incr(ctx, cache.HabitsGenKey(userID)); err != nil {
		g.log.ErrorContext(ctx, "habit cache invalidation failed", "err", err)
		g.prom.RecordCacheError("invalidate")
	}
}
