package lifespancache

import "sync/atomic"

// Node wraps a single cached value. It is linked into at most one age
// bag's chain at a time and is retained strongly only by that chain;
// every index reaches it through a weak reference instead.
//
// value and ageBag are atomic pointers rather than plain fields because
// touch legitimately reassigns ageBag without holding the manager's
// mutex (see touch below), and remove clears value/ageBag from whatever
// goroutine calls it. next is only ever mutated while the manager's
// mutex is held (by touch's attach branch or by a cleanup sweep), so it
// stays a plain pointer.
type Node[T any] struct {
	mgr *Manager[T] // non-owning; the node never keeps its manager alive

	value  atomic.Pointer[T]
	ageBag atomic.Pointer[ageBag[T]]
	next   *Node[T]
}

// touch marks the node as recently used, reassigning it to the manager's
// current age bag. If the node is not currently linked into any bag's
// chain, it is attached under the manager's mutex using a double-checked
// read; otherwise its ageBag pointer is simply moved forward and the
// physical relink is left for the next cleanup sweep to discover (see
// Manager.cleanUpLocked's "migrated" case). Reassigning ageBag is always
// safe to do lock-free: it only ever points forward.
func (n *Node[T]) touch() {
	mgr := n.mgr

	if n.ageBag.Load() == nil {
		mgr.mu.Lock()
		if n.ageBag.Load() == nil {
			bag := mgr.currentBag.Load()
			n.next = bag.first
			bag.first = n
			n.ageBag.Store(bag)
			mgr.curCount.Add(1)
		}
		mgr.mu.Unlock()
	}

	n.ageBag.Store(mgr.currentBag.Load())
	mgr.currentSize.Add(1)
	mgr.checkValid()
}

// remove logically deletes the node: if it was attached and still held a
// value, curCount is decremented. The node stays transiently linked into
// whatever bag's chain it was in until the next sweep discovers it as
// tombstoned.
//
// The detach is a Swap, not a Load-then-Store, so it races safely against
// a concurrent cleanup sweep classifying the same node as stale (see
// Manager.cleanUpLocked): whichever of the two actually transitions
// ageBag away from non-nil is the one that decrements curCount, and the
// other observes the already-nil result and does nothing — without
// either needing to hold the manager mutex, which Index.Remove's caller
// already holds its own writer lock across (see index.go's Remove) and
// must not acquire the manager mutex after, per the Manager→Index lock
// order.
func (n *Node[T]) remove() {
	if old := n.ageBag.Swap(nil); old != nil && n.value.Load() != nil {
		n.mgr.curCount.Add(-1)
	}
	n.value.Store(nil)
}
