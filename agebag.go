package lifespancache

import "time"

// ringSize is the width (R in the design) of the generation ring: 240
// time slices, plus 20 bags of headroom for the bagItemLimit overflow
// path, plus 5 bags of unconditional slack so enumeration never crosses
// a bag that's actively being swept. Changing numTimeSlices shifts the
// relationship between timeSlice and bagItemLimit; keep the 5-bag slack
// when tuning either.
const (
	numTimeSlices     = 240
	ringOverflowSlack = 20
	ringTailSlack     = 5
	ringSize          = numTimeSlices + ringOverflowSlack + ringTailSlack

	maxAgeClamp = 12 * time.Hour
)

// ageBag is a generational bucket: every item touched during one time
// slice is chained off of first. startTime is set when the bag opens;
// stopTime is set once it is no longer current, and is used by
// capacity-based eviction to decide whether the bag's youngest item is
// still inside the minimum-age protection window.
type ageBag[T any] struct {
	startTime time.Time
	stopTime  time.Time
	first     *Node[T]
}

func (b *ageBag[T]) open(now time.Time) {
	b.startTime = now
	b.stopTime = time.Time{}
	b.first = nil
}

func (b *ageBag[T]) close(now time.Time) {
	b.stopTime = now
}

// bagRing is a fixed-size ring of ageBags addressed by generation number
// modulo ringSize. All ringSize bags are pre-allocated at construction.
type bagRing[T any] struct {
	bags [ringSize]*ageBag[T]
}

func newBagRing[T any]() *bagRing[T] {
	r := &bagRing[T]{}
	for i := range r.bags {
		r.bags[i] = &ageBag[T]{}
	}
	return r
}

// at returns the bag addressed by generation gen. A negative generation
// or one that would require the counter to overflow is a fatal
// programmer error or invariant violation, not a recoverable condition —
// Manager.openCurrentBagLocked panics on the returned error, and
// Manager.cleanUpLocked logs it and stops its sweep.
func (r *bagRing[T]) at(gen int64) (*ageBag[T], error) {
	if gen < 0 {
		return nil, errBagNumberInvalid
	}
	if gen == 1<<62 {
		return nil, errBagNumberOverflow
	}
	return r.bags[gen%ringSize], nil
}

// empty detaches every bag's chain and disassociates each node from its
// bag, without touching curCount — the caller (Manager.clearLocked) is
// responsible for resetting counters as a whole.
func (r *bagRing[T]) empty(disassociate func(*Node[T])) {
	for _, b := range r.bags {
		n := b.first
		b.first = nil
		for n != nil {
			next := n.next
			n.next = nil
			disassociate(n)
			n = next
		}
	}
}
