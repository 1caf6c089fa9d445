package rebalance

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"ringcache/internal/config"
	"ringcache/internal/fanout"
	"ringcache/internal/storage"
)

// DefaultRunTimeout bounds one rebalance run.
const DefaultRunTimeout = 10 * time.Second

// Stats summarizes one rebalance run.
type Stats struct {
	Kept   int // entries still owned locally
	Sent   int // entries transferred to their new owner
	Failed int // failed transfers; entries kept for a later run
}

// OwnerFunc reports the owner of a key. self is true when the local
// node owns it; ok is false when the ring has no nodes.
type OwnerFunc func(key string) (owner config.Peer, self bool, ok bool)

// TransferFunc moves one entry to a peer, preserving its remaining TTL.
type TransferFunc func(ctx context.Context, peer config.Peer, key string, item storage.Item) error

// Rebalancer scans the local store after a membership change and ships
// each entry to its current owner.
type Rebalancer struct {
	nodeID   string
	store    storage.Store
	owner    OwnerFunc
	transfer TransferFunc
	timeout  time.Duration
}

// NewRebalancer creates a rebalancer. A non-positive timeout defaults
// to DefaultRunTimeout.
func NewRebalancer(nodeID string, store storage.Store, owner OwnerFunc, transfer TransferFunc, timeout time.Duration) *Rebalancer {
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}
	return &Rebalancer{
		nodeID:   nodeID,
		store:    store,
		owner:    owner,
		transfer: transfer,
		timeout:  timeout,
	}
}

// Kick runs a rebalance asynchronously. Fire-and-forget: the run uses a
// detached context with its own timeout, logs a summary, and never
// blocks the membership change that triggered it.
func (r *Rebalancer) Kick() {
	go func() {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("[%s] rebalance panic: %v", r.nodeID, err)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		stats := r.Run(ctx)
		log.Printf("[%s] rebalance completed: kept=%d sent=%d failed=%d",
			r.nodeID, stats.Kept, stats.Sent, stats.Failed)
	}()
}

// Run scans a snapshot of the local store and transfers every entry
// whose owner is now remote, one parallel batch per destination peer.
// Transferred entries are deleted locally; failed ones are kept so the
// next run retries them.
func (r *Rebalancer) Run(ctx context.Context) Stats {
	snapshot := r.store.Snapshot()

	var stats Stats
	groups := make(map[string][]string) // destination peer ID -> keys
	peersByID := make(map[string]config.Peer)

	for key := range snapshot {
		owner, self, ok := r.owner(key)
		if !ok || self {
			stats.Kept++
			continue
		}
		groups[owner.ID] = append(groups[owner.ID], key)
		peersByID[owner.ID] = owner
	}
	if len(groups) == 0 {
		return stats
	}

	peerIDs := make([]string, 0, len(groups))
	for id := range groups {
		peerIDs = append(peerIDs, id)
	}
	sort.Strings(peerIDs)

	var mu sync.Mutex
	results := fanout.Do(ctx, peerIDs, r.timeout, func(callCtx context.Context, peerID string) error {
		peer := peersByID[peerID]
		var firstErr error
		for _, key := range groups[peerID] {
			if err := r.transfer(callCtx, peer, key, snapshot[key]); err != nil {
				mu.Lock()
				stats.Failed++
				mu.Unlock()
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			r.store.Delete(key)
			mu.Lock()
			stats.Sent++
			mu.Unlock()
		}
		return firstErr
	})

	for _, res := range fanout.Failed(results) {
		log.Printf("[%s] rebalance: transfers to %s incomplete: %v", r.nodeID, res.PeerID, res.Err)
	}

	return stats
}
