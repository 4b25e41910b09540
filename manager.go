package lifespancache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// generationClearThreshold bounds how many generations a manager will
// cycle through before forcing a full clear rather than trusting the
// ring indefinitely. It is far below the ring's actual overflow point;
// reaching it is itself a sign something upstream is touching at a
// pathological rate.
const generationClearThreshold = 1_000_000

// rebuildable is implemented by Index[K, T] for a given T, letting the
// manager drive rebuilds and full clears without knowing each index's
// key type.
type rebuildable interface {
	rebuildLocked() int
	clearLocked()
}

// Manager is the Lifespan Manager: it owns the generation ring, the
// current/oldest generation pointers, and the single mutex that guards
// every structural transition (bag attach, cleanup, clear, rebuild).
// Index[K, T] and Cache[T] both hold a *Manager[T]; nothing outside this
// file touches ring, current, or oldest directly. Node.touch reads
// currentBag to attach and reassign nodes.
type Manager[T any] struct {
	mu sync.Mutex

	ring       *bagRing[T]
	current    int64
	oldest     int64
	currentBag atomic.Pointer[ageBag[T]]

	// currentSize counts touches into the current bag since it opened;
	// checked lock-free on every touch (see checkValid) so the hot path
	// never blocks behind a sweep.
	currentSize        atomic.Int64
	nextValidCheckNano atomic.Int64

	curCount   atomic.Int64
	totalCount atomic.Int64

	capacity     int
	minAge       time.Duration
	maxAge       time.Duration
	timeSlice    time.Duration
	bagItemLimit int64

	validFn func() bool
	logger  *zap.Logger

	indexes []rebuildable
}

func newManager[T any](capacity int, minAge, maxAge time.Duration, validFn func() bool, logger *zap.Logger) *Manager[T] {
	m := &Manager[T]{
		ring:         newBagRing[T](),
		capacity:     capacity,
		minAge:       minAge,
		maxAge:       maxAge,
		timeSlice:    maxAge / numTimeSlices,
		bagItemLimit: int64(capacity) / 20,
		validFn:      validFn,
		logger:       logger,
	}
	if m.bagItemLimit <= 0 {
		m.bagItemLimit = 1
	}

	now := time.Now()
	bag, _ := m.ring.at(0)
	bag.open(now)
	m.currentBag.Store(bag)
	m.nextValidCheckNano.Store(now.Add(m.timeSlice).UnixNano())

	return m
}

// add constructs a new Node for value and touches it into the current
// bag. The caller (Cache.Add) is responsible for inserting the returned
// node into every registered index.
func (m *Manager[T]) add(value T) *Node[T] {
	n := &Node[T]{mgr: m}
	n.value.Store(&value)
	n.touch()
	return n
}

// registerRebuilder enrolls an index so checkIndexValidLocked can drive
// its rebuild without a generic key type leaking into Manager.
func (m *Manager[T]) registerRebuilder(r rebuildable) {
	m.mu.Lock()
	m.indexes = append(m.indexes, r)
	m.mu.Unlock()
}

// rebuildNow acquires the manager mutex and rebuilds a single index —
// used by AddIndex to populate a freshly registered index against
// whatever is already live in the cache. Lock order: manager mutex,
// then the index's own writer lock (taken inside rebuildLocked).
func (m *Manager[T]) rebuildNow(r rebuildable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.rebuildLocked()
}

// checkValid is invoked on every touch. It never blocks: if the manager
// mutex is already held by another goroutine's sweep, it returns
// immediately, trusting that sweep (or the next touch) to make progress.
func (m *Manager[T]) checkValid() {
	if !m.dueForSweep() {
		return
	}
	if !m.mu.TryLock() {
		return
	}
	defer m.mu.Unlock()

	if !m.dueForSweep() {
		return
	}

	now := time.Now()
	if m.current > generationClearThreshold || (m.validFn != nil && !m.validFn()) {
		m.clearLocked(now)
		return
	}
	m.cleanUpLocked(now)
}

func (m *Manager[T]) dueForSweep() bool {
	if m.currentSize.Load() > m.bagItemLimit {
		return true
	}
	return time.Now().UnixNano() > m.nextValidCheckNano.Load()
}

// cleanUpLocked walks the ring from oldest forward, evicting or
// migrating every node in a bag that has aged out, that the ring can no
// longer spare room for, or that capacity pressure demands (subject to
// the minimum-age protection). It always finishes by opening a fresh
// current generation, even if the loop body never ran.
func (m *Manager[T]) cleanUpLocked(now time.Time) {
	maxAgeCutoff := now.Add(-m.maxAge)
	minAgeCutoff := now.Add(-m.minAge)
	itemsToRemove := m.curCount.Load() - int64(m.capacity)

	for m.current != m.oldest {
		bag, err := m.ring.at(m.oldest)
		if err != nil {
			m.logger.Error("lifespancache: invalid oldest generation during cleanup", zap.Error(err))
			break
		}

		ringNearlyFull := m.current-m.oldest > ringSize-ringTailSlack
		agedOut := bag.startTime.Before(maxAgeCutoff)
		capacityEvict := itemsToRemove > 0 && !bag.stopTime.After(minAgeCutoff)

		if !ringNearlyFull && !agedOut && !capacityEvict {
			break
		}

		node := bag.first
		bag.first = nil
		for node != nil {
			next := node.next
			node.next = nil

			switch {
			case node.value.Load() != nil && node.ageBag.CompareAndSwap(bag, nil):
				// stale: still pointed at this bag, and the
				// compare-and-swap means this sweep is the one that
				// actually claimed the detach — not a racing
				// Node.remove() on the same node (see node.go).
				m.curCount.Add(-1)
				itemsToRemove++
			case node.value.Load() != nil && node.ageBag.Load() != nil:
				// migrated: touched into a newer bag already (the CAS
				// above failed because ageBag no longer equals this
				// bag); physically catch up the chain now.
				target := node.ageBag.Load()
				if target != nil {
					node.next = target.first
					target.first = node
				}
			default:
				// tombstoned: value already cleared, or the CAS above
				// lost a race to a concurrent remove() that already
				// claimed the detach and accounted for curCount. Drop
				// silently either way.
			}

			node = next
		}

		m.oldest++
	}

	m.openCurrentBagLocked(m.current+1, now)
	m.checkIndexValidLocked()
}

// openCurrentBagLocked closes the outgoing current bag, opens the bag at
// generation gen, and resets the per-generation bookkeeping
// (currentSize, nextValidCheckNano) that paces future sweeps.
func (m *Manager[T]) openCurrentBagLocked(gen int64, now time.Time) {
	bag, err := m.ring.at(gen)
	if err != nil {
		panic(fmt.Errorf("lifespancache: %w", err))
	}

	if prev := m.currentBag.Load(); prev != nil {
		prev.close(now)
	}
	bag.open(now)

	m.current = gen
	m.currentBag.Store(bag)
	m.currentSize.Store(0)
	m.nextValidCheckNano.Store(now.Add(m.timeSlice).UnixNano())
}

// checkIndexValidLocked rebuilds every registered index once the
// cumulative dead-weak-reference overhead (totalCount - curCount)
// exceeds capacity, then resets totalCount to curCount.
func (m *Manager[T]) checkIndexValidLocked() {
	if m.totalCount.Load()-m.curCount.Load() <= int64(m.capacity) {
		return
	}
	for _, idx := range m.indexes {
		idx.rebuildLocked()
	}
	m.totalCount.Store(m.curCount.Load())
}

// clearLocked drops every node from every bag, resets the ring to
// generation zero, and clears every registered index in step — a
// validity-predicate-triggered clear (driven entirely from inside
// checkValid, with no façade involved) must leave no dangling weak
// references behind for Get to resurrect.
func (m *Manager[T]) clearLocked(now time.Time) {
	m.ring.empty(func(n *Node[T]) {
		n.ageBag.Store(nil)
	})
	for _, idx := range m.indexes {
		idx.clearLocked()
	}

	m.curCount.Store(0)
	m.totalCount.Store(0)
	m.oldest = 0

	if prev := m.currentBag.Load(); prev != nil {
		prev.close(now)
	}
	bag, _ := m.ring.at(0)
	bag.open(now)
	m.current = 0
	m.currentBag.Store(bag)
	m.currentSize.Store(0)
	m.nextValidCheckNano.Store(now.Add(m.timeSlice).UnixNano())
}

// Clear is the public entry point used by Cache.Clear; it takes the
// manager mutex itself rather than assuming the caller holds it.
func (m *Manager[T]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked(time.Now())
}

// enumerateLocked yields every live node across the ring, from the
// current generation down to the oldest, for Index.rebuildLocked. The
// caller must already hold m.mu.
func (m *Manager[T]) enumerateLocked(yield func(*Node[T])) {
	for gen := m.current; gen >= m.oldest; gen-- {
		bag, err := m.ring.at(gen)
		if err != nil {
			continue
		}
		for n := bag.first; bag.first != nil && n != nil; n = n.next {
			if n.value.Load() != nil {
				yield(n)
			}
		}
	}
}
