package lifespancache

import (
	"context"
	"fmt"
	"sync"
	"time"
	"weak"
)

// indexBinding type-erases an Index[K, T]'s key type so the cache façade
// can dispatch add/clear across every registered index without knowing
// each one's K.
type indexBinding[T any] interface {
	rebuildable
	findItem(ctx context.Context, value T) (*Node[T], error)
	addItem(ctx context.Context, n *Node[T]) (bool, error)
	Clear(ctx context.Context) error
}

// Cache is the façade: it owns the Lifespan Manager and the set of
// named indexes registered against it, and dispatches Add and Clear
// across them; lookups and removals go through each Index's Get and
// Remove.
type Cache[T any] struct {
	mgr *Manager[T]

	indexMu sync.RWMutex
	indexes map[string]indexBinding[T]

	// addMu serializes Add's find-existing-or-construct-new sequence.
	// Without it, two goroutines racing Add for the same not-yet-cached
	// key (including two Index.Get calls racing the same loader miss)
	// both pass the find loop before either inserts, each constructing
	// its own Node for what should be a single lifespan entry.
	addMu sync.Mutex

	equal func(a, b T) bool
}

// New constructs a Cache with the given capacity and age bounds.
// capacity and maxAge must be positive. maxAge is clamped to 12 hours;
// minAge defaults to maxAge when zero or out of range. With minAge equal
// to maxAge, a bag becomes eligible for capacity-based eviction only once
// it is also past maxAge, so capacity is never enforced ahead of age.
func New[T any](capacity int, minAge, maxAge time.Duration, opts ...Option[T]) *Cache[T] {
	if capacity <= 0 {
		panic("lifespancache: capacity must be positive")
	}
	if maxAge <= 0 {
		panic("lifespancache: maxAge must be positive")
	}
	if maxAge > maxAgeClamp {
		maxAge = maxAgeClamp
	}
	if minAge <= 0 || minAge > maxAge {
		minAge = maxAge
	}

	cfg := newConfig[T]()
	for _, opt := range opts {
		opt(cfg)
	}

	return &Cache[T]{
		mgr:     newManager[T](capacity, minAge, maxAge, cfg.validFn, cfg.logger),
		indexes: make(map[string]indexBinding[T]),
		equal:   cfg.equal,
	}
}

// AddIndex registers a new named index over c, keyed by getKey, with an
// optional default loader, and rebuilds it immediately against whatever
// is already live in the cache. It is a free function, not a method,
// because Go methods cannot introduce new type parameters.
func AddIndex[K comparable, T any](c *Cache[T], name string, getKey func(T) K, loader func(context.Context, K) (T, error)) (*Index[K, T], error) {
	c.indexMu.Lock()
	if _, exists := c.indexes[name]; exists {
		c.indexMu.Unlock()
		return nil, fmt.Errorf("lifespancache: index %q already registered", name)
	}

	idx := &Index[K, T]{
		name:    name,
		mgr:     c.mgr,
		c:       c,
		lock:    newBoundedRWLock(),
		entries: make(map[K]weak.Pointer[Node[T]]),
		getKey:  getKey,
		loader:  loader,
	}
	c.indexes[name] = idx
	c.indexMu.Unlock()

	c.mgr.registerRebuilder(idx)
	c.mgr.rebuildNow(idx)

	return idx, nil
}

// GetIndex returns the named index if one was registered with matching
// key type K, and whether it was found.
func GetIndex[K comparable, T any](c *Cache[T], name string) (*Index[K, T], bool) {
	c.indexMu.RLock()
	b, ok := c.indexes[name]
	c.indexMu.RUnlock()
	if !ok {
		return nil, false
	}
	idx, ok := b.(*Index[K, T])
	return idx, ok
}

func (c *Cache[T]) snapshotIndexes() []indexBinding[T] {
	c.indexMu.RLock()
	defer c.indexMu.RUnlock()
	out := make([]indexBinding[T], 0, len(c.indexes))
	for _, b := range c.indexes {
		out = append(out, b)
	}
	return out
}

// Add inserts value into the cache. If an existing, equal node is found
// through any registered index, that node is reused (touched, not
// re-created) and totalCount is not bumped. Otherwise the Lifespan
// Manager constructs a new Node and it is inserted into every index;
// totalCount is only incremented when the node is genuinely new and no
// index reported it as a duplicate key.
//
// The whole find-or-construct sequence runs under addMu: at-most-one
// lifespan entry per value depends on no second caller being able to
// pass the find loop while the first is still inserting.
func (c *Cache[T]) Add(value T) {
	ctx := context.Background()

	c.addMu.Lock()
	defer c.addMu.Unlock()

	indexes := c.snapshotIndexes()

	for _, b := range indexes {
		n, err := b.findItem(ctx, value)
		if err != nil || n == nil {
			continue
		}
		if v := n.value.Load(); v != nil && c.equal(*v, value) {
			n.touch()
			return
		}
	}

	n := c.mgr.add(value)

	duplicate := false
	for _, b := range indexes {
		existed, err := b.addItem(ctx, n)
		if err == nil && existed {
			duplicate = true
		}
	}
	if !duplicate {
		c.mgr.totalCount.Add(1)
	}
}

// Clear empties every registered index and the Lifespan Manager.
func (c *Cache[T]) Clear() {
	ctx := context.Background()
	for _, b := range c.snapshotIndexes() {
		_ = b.Clear(ctx)
	}
	c.mgr.Clear()
}
