package lifespancache

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// lockAcquireTimeout bounds every index lock acquisition at 30 seconds
// (spec §5, §4.4); exceeding it surfaces ErrLockTimeout.
const lockAcquireTimeout = 30 * time.Second

// exclusiveWeight is large enough that no realistic number of concurrent
// readers could acquire it alongside a writer, while leaving headroom
// for boundedRWLock.Lock to hold the entire semaphore.
const exclusiveWeight = 1 << 30

// boundedRWLock is a reader-writer lock whose acquisition is bounded by
// a timeout rather than blocking forever, built on
// golang.org/x/sync/semaphore (the same package NVIDIA/aistore's go.mod
// pulls in for its own concurrency control). A weighted semaphore gives
// this for free: readers acquire weight 1, a writer acquires the full
// weight, and a cancelled context simply fails the Acquire call instead
// of leaving a goroutine parked on a lock it will eventually win and
// never release.
type boundedRWLock struct {
	sem *semaphore.Weighted
}

func newBoundedRWLock() *boundedRWLock {
	return &boundedRWLock{sem: semaphore.NewWeighted(exclusiveWeight)}
}

func (l *boundedRWLock) RLock(ctx context.Context) (func(), error) {
	return l.acquire(ctx, 1)
}

func (l *boundedRWLock) Lock(ctx context.Context) (func(), error) {
	return l.acquire(ctx, exclusiveWeight)
}

func (l *boundedRWLock) acquire(ctx context.Context, weight int64) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, lockAcquireTimeout)
	defer cancel()

	if err := l.sem.Acquire(ctx, weight); err != nil {
		return nil, ErrLockTimeout
	}
	return func() { l.sem.Release(weight) }, nil
}
