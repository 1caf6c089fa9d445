package ring

import (
	"errors"
	"math/rand"
	"testing"
)

// TestRing_Property_SortedAfterRandomOps runs a random insert/delete
// workload against a reference map and checks after every operation
// that the node buffer stays strictly sorted by position and agrees
// with the reference.
func TestRing_Property_SortedAfterRandomOps(t *testing.T) {
	const (
		ringSize = 256 // small space so collisions and reinserts happen
		ops      = 5000
	)
	rng := rand.New(rand.NewSource(1))

	r := mustRing(t, Config{RingSize: ringSize, InitialCapacity: 1})
	ref := make(map[uint64]Hash) // position -> identifier

	for op := 0; op < ops; op++ {
		id := Hash(rng.Uint64())
		position := uint64(id) % ringSize

		if rng.Intn(2) == 0 {
			err := r.Insert(id)
			if _, taken := ref[position]; taken {
				if !errors.Is(err, ErrNodePresent) {
					t.Fatalf("op %d: Insert(%d) on occupied position %d: got %v, want ErrNodePresent", op, id, position, err)
				}
			} else {
				if err != nil {
					t.Fatalf("op %d: Insert(%d) failed: %v", op, id, err)
				}
				ref[position] = id
			}
		} else {
			if err := r.Delete(id); err != nil {
				t.Fatalf("op %d: Delete(%d) failed: %v", op, id, err)
			}
			delete(ref, position)
		}

		checkAgainstReference(t, r, ref)
	}
}

func checkAgainstReference(t *testing.T, r *Ring, ref map[uint64]Hash) {
	t.Helper()

	if r.Len() != len(ref) {
		t.Fatalf("Len() = %d, reference has %d", r.Len(), len(ref))
	}
	if r.Cap() < r.Len() {
		t.Fatalf("Cap() = %d < Len() = %d", r.Cap(), r.Len())
	}

	nodes := r.Nodes()
	for i, n := range nodes {
		if i > 0 && nodes[i-1].Position >= n.Position {
			t.Fatalf("sortedness violated at %d: %d >= %d", i, nodes[i-1].Position, n.Position)
		}
		want, present := ref[n.Position]
		if !present {
			t.Fatalf("ring holds position %d absent from reference", n.Position)
		}
		if want != n.ID {
			t.Fatalf("position %d holds identifier %d, reference has %d", n.Position, n.ID, want)
		}
	}
}

// TestRing_Property_ResolveMatchesLinearScan checks the lower-bound
// contract of the search primitive by comparing Resolve against a
// brute-force clockwise scan for random node sets and items.
func TestRing_Property_ResolveMatchesLinearScan(t *testing.T) {
	const ringSize = 1 << 16
	rng := rand.New(rand.NewSource(2))

	for round := 0; round < 50; round++ {
		r := mustRing(t, Config{RingSize: ringSize})

		nodeCount := 1 + rng.Intn(40)
		for i := 0; i < nodeCount; i++ {
			// Occupied positions are skipped, matching the reference below.
			_ = r.Insert(Hash(rng.Uint64()))
		}
		nodes := r.Nodes()

		for trial := 0; trial < 200; trial++ {
			item := Hash(rng.Uint64())
			position := uint64(item) % ringSize

			// Clockwise-nearest by linear scan: smallest position >= item,
			// wrapping to the smallest position overall.
			want := nodes[0].ID
			for _, n := range nodes {
				if n.Position >= position {
					want = n.ID
					break
				}
			}

			got, ok := r.Resolve(item)
			if !ok {
				t.Fatalf("round %d: Resolve reported empty ring with %d nodes", round, len(nodes))
			}
			if got != want {
				t.Fatalf("round %d: Resolve(%d) = %d, linear scan says %d", round, item, got, want)
			}
		}
	}
}

// TestRing_Property_CapacityTransitions checks that capacity only ever
// changes at the defined events: the first allocation, a doubling when
// an insert finds the buffer full, a halving-to-fit when a delete
// brings the count to exactly half the capacity, and release at zero.
func TestRing_Property_CapacityTransitions(t *testing.T) {
	const ringSize = 512
	rng := rand.New(rand.NewSource(3))

	r := mustRing(t, Config{RingSize: ringSize, InitialCapacity: 2})

	for op := 0; op < 3000; op++ {
		prevLen, prevCap := r.Len(), r.Cap()
		id := Hash(rng.Uint64())

		if rng.Intn(2) == 0 {
			err := r.Insert(id)
			switch {
			case err != nil:
				if r.Cap() != prevCap || r.Len() != prevLen {
					t.Fatalf("op %d: rejected insert changed storage: cap %d->%d len %d->%d", op, prevCap, r.Cap(), prevLen, r.Len())
				}
			case prevCap == 0:
				if r.Cap() != 2 {
					t.Fatalf("op %d: first allocation cap = %d, want 2", op, r.Cap())
				}
			case prevLen == prevCap:
				if r.Cap() != 2*prevCap {
					t.Fatalf("op %d: overflow grew cap %d -> %d, want %d", op, prevCap, r.Cap(), 2*prevCap)
				}
			default:
				if r.Cap() != prevCap {
					t.Fatalf("op %d: insert with room changed cap %d -> %d", op, prevCap, r.Cap())
				}
			}
		} else {
			removed := r.Has(id)
			if err := r.Delete(id); err != nil {
				t.Fatalf("op %d: Delete failed: %v", op, err)
			}
			switch {
			case !removed:
				if r.Cap() != prevCap {
					t.Fatalf("op %d: no-op delete changed cap %d -> %d", op, prevCap, r.Cap())
				}
			case prevLen-1 == prevCap/2:
				if r.Cap() != prevLen-1 {
					t.Fatalf("op %d: threshold delete shrank cap %d -> %d, want %d", op, prevCap, r.Cap(), prevLen-1)
				}
			default:
				if r.Cap() != prevCap {
					t.Fatalf("op %d: delete changed cap %d -> %d off-threshold", op, prevCap, r.Cap())
				}
			}
		}

		if r.Cap() < r.Len() {
			t.Fatalf("op %d: cap %d below len %d", op, r.Cap(), r.Len())
		}
	}
}

// TestRing_Property_MinimalRemap checks the point of consistent
// hashing: removing one node only remaps the items it owned, and every
// other item keeps its owner.
func TestRing_Property_MinimalRemap(t *testing.T) {
	const ringSize = 1 << 20
	rng := rand.New(rand.NewSource(4))

	r := mustRing(t, Config{RingSize: ringSize})

	nodeIDs := make([]Hash, 0, 16)
	for len(nodeIDs) < 16 {
		id := Hash(rng.Uint64())
		if err := r.Insert(id); err == nil {
			nodeIDs = append(nodeIDs, id)
		}
	}

	items := make([]Hash, 2000)
	before := make(map[Hash]Hash, len(items))
	for i := range items {
		items[i] = Hash(rng.Uint64())
		owner, ok := r.Resolve(items[i])
		if !ok {
			t.Fatal("Resolve failed on populated ring")
		}
		before[items[i]] = owner
	}

	removed := nodeIDs[rng.Intn(len(nodeIDs))]
	if err := r.Delete(removed); err != nil {
		t.Fatalf("Delete(%d) failed: %v", removed, err)
	}

	for _, item := range items {
		owner, ok := r.Resolve(item)
		if !ok {
			t.Fatal("Resolve failed after removal")
		}
		if owner == removed {
			t.Fatalf("item %d still resolves to removed node %d", item, removed)
		}
		if before[item] != removed && owner != before[item] {
			t.Fatalf("item %d remapped %d -> %d though its owner stayed", item, before[item], owner)
		}
	}
}
