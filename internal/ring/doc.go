// Package ring maintains a consistent-hashing ring: a sorted-by-position
// set of node identifiers over a fixed circular hash space, with O(log n)
// lookup of the node owning any item. Adding or removing a node remaps
// only the items between it and its neighbor, so a sharded cache or
// storage layer moves a minimal fraction of its entries on membership
// changes.
//
// The ring is a plain in-memory data structure: it performs no locking,
// no logging, and no I/O. Callers needing concurrent access must
// serialize all operations externally.
package ring
