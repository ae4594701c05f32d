package pipeline

import (
	"sync"

	"github.com/ravi-parthasarathy/convoy/pkg/frame"
)

// OutputCache is a thread-safe store of the last computed frame per node.
// It lives beside the Graph rather than inside it.
type OutputCache struct {
	mu   sync.RWMutex
	data map[string]*frame.DataFrame
}

// NewOutputCache creates an empty OutputCache.
func NewOutputCache() *OutputCache {
	return &OutputCache{data: make(map[string]*frame.DataFrame)}
}

// Put stores the output of a node.
func (c *OutputCache) Put(nodeID string, df *frame.DataFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[nodeID] = df
}

// Get retrieves the output of a node.
func (c *OutputCache) Get(nodeID string) (*frame.DataFrame, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	df, ok := c.data[nodeID]
	return df, ok
}

// Delete drops the output of a node.
func (c *OutputCache) Delete(nodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, nodeID)
}

// Prune drops every entry whose node id is not in keep.
func (c *OutputCache) Prune(keep []string) {
	want := make(map[string]bool, len(keep))
	for _, id := range keep {
		want[id] = true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.data {
		if !want[id] {
			delete(c.data, id)
		}
	}
}

// Snapshot returns a shallow copy of all entries.
func (c *OutputCache) Snapshot() map[string]*frame.DataFrame {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*frame.DataFrame, len(c.data))
	for k, v := range c.data {
		out[k] = v
	}
	return out
}
