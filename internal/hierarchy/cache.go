package hierarchy

import "sync"

// cycleCache memoizes WouldCreateCycle results per (parent, child) pair.
type cycleCache struct {
	mu       sync.Mutex
	byParent map[string]map[string]bool
	byChild  map[string]map[string]struct{}
	hits     uint64
	misses   uint64
}

func newCycleCache() *cycleCache {
	return &cycleCache{
		byParent: make(map[string]map[string]bool),
		byChild:  make(map[string]map[string]struct{}),
	}
}

func (c *cycleCache) get(parent, child string) (result, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	result, ok = c.byParent[parent][child]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return result, ok
}

func (c *cycleCache) put(parent, child string, result bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	row := c.byParent[parent]
	if row == nil {
		row = make(map[string]bool)
		c.byParent[parent] = row
	}
	row[child] = result

	col := c.byChild[child]
	if col == nil {
		col = make(map[string]struct{})
		c.byChild[child] = col
	}
	col[parent] = struct{}{}
}

// invalidate drops every entry that names one of ids on either side.
func (c *cycleCache) invalidate(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		for child := range c.byParent[id] {
			delete(c.byChild[child], id)
			if len(c.byChild[child]) == 0 {
				delete(c.byChild, child)
			}
		}
		delete(c.byParent, id)

		for parent := range c.byChild[id] {
			delete(c.byParent[parent], id)
			if len(c.byParent[parent]) == 0 {
				delete(c.byParent, parent)
			}
		}
		delete(c.byChild, id)
	}
}

func (c *cycleCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byParent = make(map[string]map[string]bool)
	c.byChild = make(map[string]map[string]struct{})
}

func (c *cycleCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, row := range c.byParent {
		n += len(row)
	}
	return n
}

func (c *cycleCache) counters() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
