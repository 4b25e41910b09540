package lifespancache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestCapacitySpilloverWithinMinAge covers spec §8's first concrete
// scenario: a burst of inserts, all within minAge, must not be evicted
// for capacity reasons even though curCount exceeds capacity.
func TestCapacitySpilloverWithinMinAge(t *testing.T) {
	c := New[int](10, time.Minute, time.Hour)
	byVal, err := AddIndex(c, "byVal", func(v int) int { return v }, nil)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		c.Add(i)
	}
	for i := 0; i < 20; i++ {
		_, found, err := byVal.Get(t.Context(), i)
		require.NoError(t, err)
		require.True(t, found, "item %d should not have been evicted within minAge", i)
	}

	require.EqualValues(t, 20, c.mgr.curCount.Load())
}

// TestAgeBasedEvictionDetachesUntouchedItems covers spec §8's second
// concrete scenario: items older than maxAge are detached by the next
// sweep after the boundary, while a recently touched item survives.
func TestAgeBasedEvictionDetachesUntouchedItems(t *testing.T) {
	c := New[int](1000, 50*time.Millisecond, 50*time.Millisecond)
	byVal, err := AddIndex(c, "byVal", func(v int) int { return v }, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		c.Add(i)
	}

	// Close the bag the inserts landed in, as the end of its time slice
	// would: a sweep never reclaims the generation that is still current.
	c.mgr.mu.Lock()
	c.mgr.cleanUpLocked(time.Now())
	c.mgr.mu.Unlock()

	time.Sleep(100 * time.Millisecond)

	// Touching one unrelated key forces checkValid to run a sweep.
	c.Add(999)

	// Get would reattach a detached node that is not yet collected, so the
	// checks read the index entries without touching them.
	for i := 0; i < 5; i++ {
		n, err := byVal.getNode(t.Context(), i)
		require.NoError(t, err)
		require.True(t, n == nil || n.ageBag.Load() == nil, "item %d should have aged out", i)
	}

	n, err := byVal.getNode(t.Context(), 999)
	require.NoError(t, err)
	require.NotNil(t, n)
	require.NotNil(t, n.ageBag.Load(), "the freshly touched item should stay attached")
}

// TestRebuildOnDeadWeakOverflow covers spec §8's rebuild scenario: once
// the cumulative dead-weak-reference overhead exceeds capacity, the next
// sweep rebuilds every index and totalCount settles back to curCount.
func TestRebuildOnDeadWeakOverflow(t *testing.T) {
	capacity := 5
	c := New[int](capacity, time.Minute, time.Hour)
	byVal, err := AddIndex(c, "byVal", func(v int) int { return v }, nil)
	require.NoError(t, err)

	// Insert and immediately remove 3x capacity worth of items: totalCount
	// climbs, curCount does not, driving totalCount - curCount > capacity.
	for i := 0; i < capacity*3; i++ {
		c.Add(i)
		require.NoError(t, byVal.Remove(t.Context(), i))
	}

	// One more touch to run checkValid and trigger checkIndexValidLocked.
	c.Add(1_000_000)

	require.Eventually(t, func() bool {
		c.mgr.mu.Lock()
		defer c.mgr.mu.Unlock()
		return c.mgr.totalCount.Load() == c.mgr.curCount.Load()
	}, time.Second, time.Millisecond)
}

// TestConcurrentTouchSameKeyCountsOnce covers spec §8's concurrent-touch
// property: N goroutines racing to add the same key must leave curCount
// higher by exactly one node. This is enforced by Cache.Add's addMu, not
// by timing: without it, two racing Adds for an absent key could both
// pass the find loop and each construct their own Node.
func TestConcurrentTouchSameKeyCountsOnce(t *testing.T) {
	c := New[int](1000, time.Minute, time.Hour)
	_, err := AddIndex(c, "byVal", func(v int) int { return v }, nil)
	require.NoError(t, err)

	const n = 32
	done := make(chan struct{})
	for i := 0; i < n; i++ {
		go func() {
			c.Add(42)
			done <- struct{}{}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}

	require.EqualValues(t, 1, c.mgr.curCount.Load())
}

// TestRemoveRacingStaleCleanupDecrementsOnce guards against Node.remove
// and Manager.cleanUpLocked's stale classification both deciding to
// decrement curCount for the same node: remove is invoked concurrently
// with a sweep over a node sitting right on the maxAge boundary,
// so the two code paths are racing to detach it, and curCount must only
// ever drop by one regardless of which one wins.
func TestRemoveRacingStaleCleanupDecrementsOnce(t *testing.T) {
	c := New[int](1000, time.Millisecond, time.Millisecond)
	byVal, err := AddIndex(c, "byVal", func(v int) int { return v }, nil)
	require.NoError(t, err)

	c.Add(7)
	before := c.mgr.curCount.Load()
	require.EqualValues(t, 1, before)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = byVal.Remove(t.Context(), 7)
	}()
	go func() {
		defer wg.Done()
		time.Sleep(time.Millisecond)
		c.mgr.mu.Lock()
		c.mgr.cleanUpLocked(time.Now())
		c.mgr.mu.Unlock()
	}()
	wg.Wait()

	require.EqualValues(t, 0, c.mgr.curCount.Load())
}

func TestNewPanicsOnInvalidConfig(t *testing.T) {
	require.Panics(t, func() { New[int](0, time.Minute, time.Hour) })
	require.Panics(t, func() { New[int](10, time.Minute, 0) })
}

func TestMaxAgeClampedTo12Hours(t *testing.T) {
	c := New[int](10, 0, 24*time.Hour)
	require.Equal(t, maxAgeClamp, c.mgr.maxAge)
}

func TestBagRingAtRejectsNegativeGeneration(t *testing.T) {
	r := newBagRing[int]()
	_, err := r.at(-1)
	require.ErrorIs(t, err, errBagNumberInvalid)
}

func TestOpenCurrentBagAlwaysAdvancesGeneration(t *testing.T) {
	c := New[int](1000, time.Hour, time.Hour)
	before := c.mgr.current
	c.mgr.mu.Lock()
	c.mgr.cleanUpLocked(time.Now())
	c.mgr.mu.Unlock()
	require.Equal(t, before+1, c.mgr.current)
}

// TestRebuildIdempotence covers spec §8 property 5: rebuilding an index
// twice in succession yields the same number of entries, and totalCount
// equals curCount afterwards.
func TestRebuildIdempotence(t *testing.T) {
	c := New[int](100, time.Minute, time.Hour)
	byVal, err := AddIndex(c, "byVal", func(v int) int { return v }, nil)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		c.Add(i)
	}

	c.mgr.mu.Lock()
	first := byVal.rebuildLocked()
	c.mgr.checkIndexValidLocked()
	second := byVal.rebuildLocked()
	c.mgr.mu.Unlock()

	require.Equal(t, first, second)
	require.EqualValues(t, c.mgr.curCount.Load(), c.mgr.totalCount.Load())
}

func TestIndexName(t *testing.T) {
	// Exercises registration bookkeeping over sequential AddIndex calls
	// for distinct names; mostly a regression guard against the
	// indexMu / manager mutex interplay in AddIndex.
	c := New[int](10, time.Minute, time.Hour)
	for i := 0; i < 8; i++ {
		_, err := AddIndex(c, fmt.Sprintf("idx-%d", i), func(v int) int { return v }, nil)
		require.NoError(t, err)
	}
	require.Len(t, c.indexes, 8)
}
