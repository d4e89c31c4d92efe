package planning

import (
	"sync"

	"courier.ai/internal/belief"
)

// DistanceCache remembers walking distances between tile pairs. One cache
// belongs to one agent; planners running off the loop write into it.
type DistanceCache struct {
	mu sync.RWMutex
	m  map[belief.PairKey]int
}

func NewDistanceCache() *DistanceCache {
	return &DistanceCache{m: map[belief.PairKey]int{}}
}

func (c *DistanceCache) Get(a, b belief.Point) (int, bool) {
	if c == nil {
		return 0, false
	}
	if a == b {
		return 0, true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.m[belief.Pair(a, b)]
	return d, ok
}

// Put stores d for both directions; walking distance is symmetric.
func (c *DistanceCache) Put(a, b belief.Point, d int) {
	if c == nil || d < 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[belief.Pair(a, b)] = d
	c.m[belief.Pair(b, a)] = d
}

// PutPath records the distance from each tile of a walked path to its end.
func (c *DistanceCache) PutPath(path []belief.Point) {
	if len(path) < 2 {
		return
	}
	end := path[len(path)-1]
	for i, p := range path[:len(path)-1] {
		c.Put(p, end, len(path)-1-i)
	}
}

func (c *DistanceCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}
