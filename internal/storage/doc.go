// Package storage provides the local key-value store backing a cache
// node. Entries carry an optional TTL and are bounded by an LRU policy;
// the rebalancer consumes point-in-time snapshots when ring membership
// changes.
package storage
