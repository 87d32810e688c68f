// Package projection keeps local collections in sync with remote feeds.
//
// A List holds the elements of a feed.Source in display order and tells its listeners which
// positions changed. A Merger combines two scalar feeds into one value where the first feed
// overrides the second. Both start watching their feeds when the first listener is added and
// stop when the last one is removed.
//
// All state lives on a Loop: feed goroutines never touch it, they post events to the loop,
// and every List/Merger method must be called from a task running on that loop
// (use Loop.Do from other goroutines).
package projection
