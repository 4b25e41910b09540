// Package lifespancache provides a generic, thread-safe, in-process object
// cache keyed through one or more named indexes.
//
// Unlike a plain LRU map, lifespancache approximates recency with a
// time-sliced ring of generational "age bags": every touch reassigns an
// item to the current bag, and a cooperative cleanup sweep walks the ring
// from its oldest generation forward, evicting items that have aged out or
// that the cache has outgrown. Items are held strongly only by their age
// bag; every index holds a weak reference (via the standard library's
// weak package), so an item that falls out of every bag can be reclaimed
// by the garbage collector — and, if looked up again before the collector
// gets to it, is resurrected and reattached to the current bag.
//
// Basic usage:
//
//	type user struct {
//		ID   int
//		Name string
//	}
//
//	c := lifespancache.New[user](1000, time.Minute, time.Hour)
//
//	byID, _ := lifespancache.AddIndex(c, "byID",
//		func(u user) int { return u.ID },
//		func(ctx context.Context, id int) (user, error) {
//			return loadUserFromDB(ctx, id)
//		},
//	)
//
//	u, found, err := byID.Get(context.Background(), 42)
//
// The cache itself never talks to a database, a file, or the network —
// loading, key extraction, and validity are all supplied by the caller.
package lifespancache
