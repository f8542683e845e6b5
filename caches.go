package dbus

import "sync"

// cache memoizes values of type V keyed by K, backed by a sync.Map.
// It is used to memoize parsed type descriptors by their signature
// text, so repeated parses of the same signature string share one
// descriptor tree.
type cache[K comparable, V any] struct {
	m sync.Map
}

func (c *cache[K, V]) Get(k K) (val V, found bool) {
	ent, ok := c.m.Load(k)
	if !ok {
		var zero V
		return zero, false
	}
	return ent.(V), true
}

func (c *cache[K, V]) Put(k K, val V) {
	c.m.Store(k, val)
}
