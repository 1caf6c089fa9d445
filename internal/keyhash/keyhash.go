// Package keyhash supplies the hash function that turns cache keys and
// node IDs into ring identifiers. The ring itself only ever sees
// already-hashed integers; every caller goes through a Func so that the
// whole cluster agrees on placement.
package keyhash

import "github.com/cespare/xxhash/v2"

// Func computes a 64-bit digest of raw bytes.
type Func func(data []byte) uint64

// Default is the hash used when a caller does not supply its own.
var Default Func = xxhash.Sum64

// Key hashes a cache key with the default function.
func Key(key string) uint64 {
	return xxhash.Sum64String(key)
}

// NodeID hashes a node identifier with the default function.
func NodeID(id string) uint64 {
	return xxhash.Sum64String(id)
}
