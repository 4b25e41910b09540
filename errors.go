package lifespancache

import (
	"errors"
	"fmt"
)

// ErrLockTimeout is returned when an index's reader-writer lock could not
// be acquired within the bounded acquisition window.
var ErrLockTimeout = errors.New("lifespancache: lock acquisition timed out")

// errBagNumberInvalid and errBagNumberOverflow back a fatal invariant
// violation in the generation ring (see openCurrentBagLocked). Neither is
// expected to ever surface in a running cache: the manager forces a full
// clear long before the generation counter could approach overflow.
var (
	errBagNumberInvalid  = errors.New("lifespancache: negative bag generation requested")
	errBagNumberOverflow = errors.New("lifespancache: bag generation counter overflowed")
)

// LoaderError wraps a failure returned by an index's loader callback. The
// cache inserts nothing when a loader fails.
type LoaderError struct {
	Key any
	Err error
}

func (e *LoaderError) Error() string {
	return fmt.Sprintf("lifespancache: loader failed for key %v: %v", e.Key, e.Err)
}

func (e *LoaderError) Unwrap() error { return e.Err }
