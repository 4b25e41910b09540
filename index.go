package lifespancache

import (
	"context"
	"weak"

	"go.uber.org/zap"
)

// Index is a named view over a Cache, mapping an arbitrary key type K to
// the cache's items. It holds only weak references to Nodes — the
// Lifespan Manager's age bags are the only strong owners — guarded by a
// bounded reader-writer lock.
type Index[K comparable, T any] struct {
	name string
	mgr  *Manager[T]
	c    *Cache[T]

	lock    *boundedRWLock
	entries map[K]weak.Pointer[Node[T]]

	getKey func(T) K
	loader func(context.Context, K) (T, error)
}

// getNode looks up key under the index's read lock. A dead weak
// reference is left in place for rebuild to collect later, and is
// reported the same as a miss.
func (idx *Index[K, T]) getNode(ctx context.Context, key K) (*Node[T], error) {
	release, err := idx.lock.RLock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	ptr, ok := idx.entries[key]
	if !ok {
		return nil, nil
	}
	return ptr.Value(), nil
}

// addItem inserts node under the key derived from its current value,
// overwriting any existing entry. It reports whether the key was
// already present, which the cache façade uses to decide whether a
// newly added value is a genuine duplicate.
func (idx *Index[K, T]) addItem(ctx context.Context, n *Node[T]) (bool, error) {
	v := n.value.Load()
	if v == nil {
		return false, nil
	}
	key := idx.getKey(*v)

	release, err := idx.lock.Lock(ctx)
	if err != nil {
		return false, err
	}
	defer release()

	_, existed := idx.entries[key]
	idx.entries[key] = weak.Make(n)
	return existed, nil
}

// findItem resolves a node by the key this index would derive for value.
func (idx *Index[K, T]) findItem(ctx context.Context, value T) (*Node[T], error) {
	return idx.getNode(ctx, idx.getKey(value))
}

// Clear empties the index's map.
func (idx *Index[K, T]) Clear(ctx context.Context) error {
	release, err := idx.lock.Lock(ctx)
	if err != nil {
		return err
	}
	defer release()
	idx.entries = make(map[K]weak.Pointer[Node[T]])
	return nil
}

// clearLocked is Clear's manager-driven counterpart: called from
// Manager.clearLocked, with the manager mutex already held, on every
// full clear of the manager.
func (idx *Index[K, T]) clearLocked() {
	release, err := idx.lock.Lock(context.Background())
	if err != nil {
		idx.mgr.logger.Warn("lifespancache: index clear could not acquire writer lock", zap.String("index", idx.name))
		return
	}
	defer release()
	idx.entries = make(map[K]weak.Pointer[Node[T]])
}

// Remove deletes key from the index and logically removes the
// underlying node, if one is still live. The resolve-and-delete happens
// under a single writer-lock acquisition so a concurrent Add for the
// same key can never land in between — resolving under a read lock and
// deleting under a later, separate write lock could delete an entry an
// intervening Add had just (re)inserted, one this call never resolved.
func (idx *Index[K, T]) Remove(ctx context.Context, key K) error {
	release, err := idx.lock.Lock(ctx)
	if err != nil {
		return err
	}
	defer release()

	if ptr, ok := idx.entries[key]; ok {
		if n := ptr.Value(); n != nil {
			n.remove()
		}
	}
	delete(idx.entries, key)
	return nil
}

// rebuildLocked clears the index's map and repopulates it from the
// manager's live enumeration. The caller must already hold the manager
// mutex (lock order: manager mutex, then this index's writer lock).
func (idx *Index[K, T]) rebuildLocked() int {
	release, err := idx.lock.Lock(context.Background())
	if err != nil {
		idx.mgr.logger.Warn("lifespancache: index rebuild could not acquire writer lock", zap.String("index", idx.name))
		return len(idx.entries)
	}
	defer release()

	idx.entries = make(map[K]weak.Pointer[Node[T]], len(idx.entries))
	idx.mgr.enumerateLocked(func(n *Node[T]) {
		v := n.value.Load()
		if v == nil {
			return
		}
		idx.entries[idx.getKey(*v)] = weak.Make(n)
	})
	return len(idx.entries)
}

// Get is the index's user-facing entry point: return the live value for
// key, touching it into the current generation, or fall back to loader
// (the per-call override if supplied, else the index's own loader) when
// the key is missing or its node has been reclaimed.
func (idx *Index[K, T]) Get(ctx context.Context, key K, loaderOverride ...func(context.Context, K) (T, error)) (T, bool, error) {
	var zero T

	n, err := idx.getNode(ctx, key)
	if err != nil {
		return zero, false, err
	}
	if n != nil {
		if v := n.value.Load(); v != nil {
			n.touch()
			return *v, true, nil
		}
	}

	loader := idx.loader
	if len(loaderOverride) > 0 && loaderOverride[0] != nil {
		loader = loaderOverride[0]
	}
	if loader == nil {
		return zero, false, nil
	}

	value, err := loader(ctx, key)
	if err != nil {
		return zero, false, &LoaderError{Key: key, Err: err}
	}

	idx.c.Add(value)
	return value, true, nil
}
