package entities

import "sync"

// Cache mirrors the server's collection of one entity type for the list
// views. The mutation engine is the only writer; reads always reflect the
// latest committed-or-speculative state. Snapshot and Restore give the engine
// its rollback mechanism: Restore is a full replace, never a merge, so a
// partially-failed speculative state cannot linger.
type Cache[T Keyed] struct {
	lock  sync.RWMutex
	order []string
	items map[string]T
}

// Snapshot is an immutable copy of a cache's collection, captured before a
// speculative mutation and applied back on rollback.
type Snapshot[T Keyed] struct {
	order []string
	items map[string]T
}

func NewCache[T Keyed]() *Cache[T] {
	return &Cache[T]{items: make(map[string]T)}
}

// List returns the records in insertion order. The slice is a copy; callers
// may not mutate cache state through it.
func (c *Cache[T]) List() []T {
	c.lock.RLock()
	defer c.lock.RUnlock()

	out := make([]T, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.items[key])
	}
	return out
}

func (c *Cache[T]) Get(key string) (T, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	item, ok := c.items[key]
	return item, ok
}

func (c *Cache[T]) Len() int {
	c.lock.RLock()
	defer c.lock.RUnlock()

	return len(c.order)
}

// ReplaceAll swaps in a full server-provided collection. Used on initial load
// and full invalidation.
func (c *Cache[T]) ReplaceAll(items []T) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.order = make([]string, 0, len(items))
	c.items = make(map[string]T, len(items))
	for _, item := range items {
		key := item.Key()
		if _, exists := c.items[key]; exists {
			continue
		}
		c.order = append(c.order, key)
		c.items[key] = item
	}
}

// ApplyPatch speculatively replaces one record in place.
func (c *Cache[T]) ApplyPatch(key string, patch func(T) T) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	item, ok := c.items[key]
	if !ok {
		return ErrNotFound
	}
	c.items[key] = patch(item)
	return nil
}

// ApplyRemoval speculatively removes one record.
func (c *Cache[T]) ApplyRemoval(key string) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if _, ok := c.items[key]; !ok {
		return ErrNotFound
	}
	delete(c.items, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

// ApplyInsertion speculatively appends a record. For optimistic creates the
// caller supplies a temporary key and reconciles it on commit.
func (c *Cache[T]) ApplyInsertion(item T) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	key := item.Key()
	if _, exists := c.items[key]; exists {
		return ErrDuplicateKey
	}
	c.order = append(c.order, key)
	c.items[key] = item
	return nil
}

// Reconcile replaces the record at oldKey with the server's authoritative
// version, rekeying in place when the server assigned a different key (the
// temp-key case on insert). The record's position in the list is preserved.
func (c *Cache[T]) Reconcile(oldKey string, item T) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if _, ok := c.items[oldKey]; !ok {
		return ErrNotFound
	}

	newKey := item.Key()
	if newKey != oldKey {
		if _, exists := c.items[newKey]; exists {
			return ErrDuplicateKey
		}
		delete(c.items, oldKey)
		for i, k := range c.order {
			if k == oldKey {
				c.order[i] = newKey
				break
			}
		}
		c.items[newKey] = item
		return nil
	}

	c.items[oldKey] = item
	return nil
}

// Snapshot captures the collection for rollback.
func (c *Cache[T]) Snapshot() Snapshot[T] {
	c.lock.RLock()
	defer c.lock.RUnlock()

	order := make([]string, len(c.order))
	copy(order, c.order)
	items := make(map[string]T, len(c.items))
	for k, v := range c.items {
		items[k] = v
	}
	return Snapshot[T]{order: order, items: items}
}

// Restore replaces the collection with a previously captured snapshot.
func (c *Cache[T]) Restore(snap Snapshot[T]) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.order = make([]string, len(snap.order))
	copy(c.order, snap.order)
	c.items = make(map[string]T, len(snap.items))
	for k, v := range snap.items {
		c.items[k] = v
	}
}

// Invalidate empties the cache. Satisfies the session gateway's Invalidator.
func (c *Cache[T]) Invalidate() {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.order = nil
	c.items = make(map[string]T)
}
