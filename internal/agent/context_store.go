package agent

import (
	"maps"
	"slices"
	"sync"
)

// ContextEntry is one key/value pair of a ContextStore in insertion order.
type ContextEntry struct {
	Key   string
	Value any
}

// ContextStore is a concurrency-safe map that remembers insertion order so prompts
// render the same way every time. Overwriting a key keeps its original position.
type ContextStore struct {
	mu     sync.RWMutex
	values map[string]any
	order  []string
}

func NewContextStore() *ContextStore {
	return &ContextStore{values: make(map[string]any)}
}

func (c *ContextStore) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[key]; !ok {
		c.order = append(c.order, key)
	}
	c.values[key] = value
}

func (c *ContextStore) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// Snapshot returns a copy that later writes do not affect.
func (c *ContextStore) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.values)
}

// Entries returns the contents in insertion order.
func (c *ContextStore) Entries() []ContextEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ContextEntry, len(c.order))
	for i, k := range c.order {
		out[i] = ContextEntry{Key: k, Value: c.values[k]}
	}
	return out
}

func (c *ContextStore) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.order)
}

// Merge copies every key of m into the store; new keys are added in sorted order.
func (c *ContextStore) Merge(m map[string]any) {
	for _, k := range slices.Sorted(maps.Keys(m)) {
		c.Set(k, m[k])
	}
}

func (c *ContextStore) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values)
}

// Clear drops every entry.
func (c *ContextStore) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.values)
	c.order = nil
}
