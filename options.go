package lifespancache

import (
	"reflect"

	"go.uber.org/zap"
)

// config collects the optional collaborators a Cache can be built with,
// assembled through the functional-options pattern (grounded on
// tempuscache's Option func(*Cache) — the only functional-options cache
// constructor in the retrieval pack). Capacity, minAge, and maxAge stay
// positional arguments to New, the way the teacher's own Config struct
// keeps its size knobs separate from anything optional.
type config[T any] struct {
	logger  *zap.Logger
	validFn func() bool
	equal   func(a, b T) bool
}

func newConfig[T any]() *config[T] {
	return &config[T]{
		logger: zap.NewNop(),
		equal: func(a, b T) bool {
			return reflect.DeepEqual(a, b)
		},
	}
}

// Option configures optional Cache behavior.
type Option[T any] func(*config[T])

// WithLogger routes the cache's defensive, "log and keep going"
// diagnostics (an invalid generation met during a cleanup sweep, an index
// clear or rebuild that could not take its writer lock) through l instead
// of a no-op logger.
func WithLogger[T any](l *zap.Logger) Option[T] {
	return func(c *config[T]) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithValidity installs a validity predicate: when non-nil and it
// returns false during a maintenance sweep, the cache is fully cleared.
func WithValidity[T any](fn func() bool) Option[T] {
	return func(c *config[T]) { c.validFn = fn }
}

// WithEqual overrides the equality check Cache.Add uses to decide
// whether a value already present under some index is the same item
// being re-added. It defaults to reflect.DeepEqual.
func WithEqual[T any](fn func(a, b T) bool) Option[T] {
	return func(c *config[T]) {
		if fn != nil {
			c.equal = fn
		}
	}
}
