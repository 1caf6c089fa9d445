package ring

import (
	"errors"
	"fmt"
)

// Hash is a caller-supplied identifier, already hashed. Both node
// identifiers and item hashes are Hash values.
type Hash uint64

// Node is one entry on the ring: the caller's identifier and the
// position derived from it.
type Node struct {
	ID       Hash
	Position uint64
}

var (
	// ErrNilRing is returned when Insert or Delete is invoked on a nil ring.
	ErrNilRing = errors.New("ring: nil ring")
	// ErrAllocation is returned when the backing buffer could not be
	// resized. The ring is left in its prior valid state.
	ErrAllocation = errors.New("ring: buffer allocation failed")
	// ErrNodePresent is returned when an insert lands on an occupied
	// position, even if the colliding identifiers differ.
	ErrNodePresent = errors.New("ring: node already present at position")
)

// DefaultInitialCapacity is the size of the first buffer allocation
// when Config.InitialCapacity is unset.
const DefaultInitialCapacity = 8

// Config carries the construction parameters of a Ring.
type Config struct {
	// RingSize is the modulus of the circular space [0, RingSize).
	// Required; fixed for the lifetime of the ring.
	RingSize uint64
	// InitialCapacity is the buffer size of the first allocation.
	// Defaults to DefaultInitialCapacity.
	InitialCapacity int
	// Alloc returns a zeroed buffer of n nodes, or nil when allocation
	// fails. Defaults to make.
	Alloc func(n int) []Node
	// Free releases a buffer previously returned by Alloc. Defaults to
	// a no-op.
	Free func(buf []Node)
}

// Ring places nodes on the circular space [0, ringSize) at positions
// derived from their identifiers. The backing buffer holds the live
// entries in nodes[:count], always sorted ascending by position;
// len(nodes) is the allocated capacity.
type Ring struct {
	ringSize uint64
	nodes    []Node
	count    int
	initCap  int
	alloc    func(n int) []Node
	free     func(buf []Node)
}

// New allocates an empty ring over [0, RingSize).
func New(cfg Config) (*Ring, error) {
	if cfg.RingSize == 0 {
		return nil, fmt.Errorf("ring size must be positive")
	}

	initCap := cfg.InitialCapacity
	if initCap <= 0 {
		initCap = DefaultInitialCapacity
	}
	alloc := cfg.Alloc
	if alloc == nil {
		alloc = func(n int) []Node { return make([]Node, n) }
	}
	free := cfg.Free
	if free == nil {
		free = func([]Node) {}
	}

	return &Ring{
		ringSize: cfg.RingSize,
		initCap:  initCap,
		alloc:    alloc,
		free:     free,
	}, nil
}

// Destroy releases the backing buffer through the Free hook. The ring
// must not be used afterward.
func (r *Ring) Destroy() {
	if r == nil {
		return
	}
	if r.nodes != nil {
		r.free(r.nodes)
		r.nodes = nil
	}
	r.count = 0
}

// search locates position p in nodes[:count]. It reports the index of
// the matching entry when one exists; otherwise found is false and the
// index is the lower-bound insertion point for p (the smallest index
// whose position is >= p, or count when p exceeds every position).
func (r *Ring) search(p uint64) (index int, found bool) {
	lo, hi := 0, r.count
	for lo < hi {
		mid := lo + (hi-lo)/2
		switch q := r.nodes[mid].Position; {
		case q == p:
			return mid, true
		case q < p:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return lo, false
}

// Insert places a node with the given identifier on the ring at
// position id % ringSize. It fails with ErrNodePresent when another
// node already occupies that position, and with ErrAllocation when the
// buffer could not grow; in both cases the ring is unchanged.
func (r *Ring) Insert(id Hash) error {
	if r == nil {
		return ErrNilRing
	}

	node := Node{ID: id, Position: uint64(id) % r.ringSize}

	idx, found := r.search(node.Position)
	if found {
		return ErrNodePresent
	}

	switch {
	case r.nodes == nil:
		buf := r.alloc(r.initCap)
		if buf == nil {
			return ErrAllocation
		}
		r.nodes = buf
	case r.count == len(r.nodes):
		// Full: copy into a doubled buffer, leaving a gap at idx.
		grown := r.alloc(2 * len(r.nodes))
		if grown == nil {
			return ErrAllocation
		}
		copy(grown, r.nodes[:idx])
		copy(grown[idx+1:], r.nodes[idx:r.count])
		r.free(r.nodes)
		r.nodes = grown
		r.nodes[idx] = node
		r.count++
		return nil
	}

	copy(r.nodes[idx+1:r.count+1], r.nodes[idx:r.count])
	r.nodes[idx] = node
	r.count++
	return nil
}

// Delete removes the node at the position derived from id. Deleting an
// identifier that is not on the ring is a no-op, not an error. When the
// removal brings the count down to exactly half the capacity, the
// buffer shrinks to an exact-fit allocation; a failed shrink returns
// ErrAllocation with the ring unchanged.
func (r *Ring) Delete(id Hash) error {
	if r == nil {
		return ErrNilRing
	}

	idx, found := r.search(uint64(id) % r.ringSize)
	if !found {
		return nil
	}

	if r.count-1 == len(r.nodes)/2 {
		if r.count == 1 {
			r.free(r.nodes)
			r.nodes = nil
			r.count = 0
			return nil
		}
		shrunk := r.alloc(r.count - 1)
		if shrunk == nil {
			return ErrAllocation
		}
		copy(shrunk, r.nodes[:idx])
		copy(shrunk[idx:], r.nodes[idx+1:r.count])
		r.free(r.nodes)
		r.nodes = shrunk
		r.count--
		return nil
	}

	copy(r.nodes[idx:], r.nodes[idx+1:r.count])
	r.count--
	r.nodes[r.count] = Node{}
	return nil
}

// Resolve maps an item hash to the identifier of its owning node: the
// node at the smallest position at or after item % ringSize, wrapping
// around to the lowest-position node when the item's position exceeds
// every node's. ok is false when the ring has no nodes.
func (r *Ring) Resolve(item Hash) (owner Hash, ok bool) {
	if r == nil || r.count == 0 {
		return 0, false
	}

	idx, _ := r.search(uint64(item) % r.ringSize)
	if idx == r.count {
		idx = 0
	}
	return r.nodes[idx].ID, true
}

// Has reports whether a node occupies the position derived from id.
func (r *Ring) Has(id Hash) bool {
	if r == nil || r.count == 0 {
		return false
	}
	_, found := r.search(uint64(id) % r.ringSize)
	return found
}

// Len reports the number of nodes on the ring.
func (r *Ring) Len() int {
	if r == nil {
		return 0
	}
	return r.count
}

// Cap reports the allocated capacity of the backing buffer.
func (r *Ring) Cap() int {
	if r == nil {
		return 0
	}
	return len(r.nodes)
}

// RingSize reports the modulus of the circular space.
func (r *Ring) RingSize() uint64 {
	if r == nil {
		return 0
	}
	return r.ringSize
}

// Nodes returns a copy of the live entries in position order.
func (r *Ring) Nodes() []Node {
	if r == nil || r.count == 0 {
		return nil
	}
	out := make([]Node, r.count)
	copy(out, r.nodes[:r.count])
	return out
}
