package routing

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultPlanCacheSize = 64

// PlanCache keeps solved previews per date so an assignment can persist the
// exact plan the admin reviewed
type PlanCache struct {
	lru       *expirable.LRU[string, Plan]
	ttl       time.Duration
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

func NewPlanCache(ttl time.Duration) *PlanCache {
	c := &PlanCache{ttl: ttl}
	c.lru = expirable.NewLRU[string, Plan](defaultPlanCacheSize, func(date string, _ Plan) {
		c.evictions.Add(1)
		log.Printf("🗑️  Evicted cached plan for %s", date)
	}, ttl)
	return c
}

// Get returns the cached plan for a date
func (c *PlanCache) Get(date string) (Plan, bool) {
	plan, ok := c.lru.Get(date)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return plan, ok
}

func (c *PlanCache) Set(plan Plan) {
	c.lru.Add(plan.Date, plan)
}

// Invalidate drops the preview once the plan is persisted
func (c *PlanCache) Invalidate(date string) {
	c.lru.Remove(date)
}

// Stats returns cache statistics
func (c *PlanCache) Stats() map[string]interface{} {
	hits, misses := c.hits.Load(), c.misses.Load()
	hitRate := 0.0
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	return map[string]interface{}{
		"cache_size": c.lru.Len(),
		"hits":       hits,
		"misses":     misses,
		"hit_rate":   fmt.Sprintf("%.2f%%", hitRate),
		"evictions":  c.evictions.Load(),
		"ttl":        c.ttl.String(),
	}
}
