package cluster

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"ringcache/internal/config"
	"ringcache/internal/keyhash"
	"ringcache/internal/rebalance"
	"ringcache/internal/ring"
	"ringcache/internal/storage"
)

// Node represents a single cache node in the cluster.
type Node struct {
	id         string
	listenAddr string
	hash       keyhash.Func
	defaultTTL time.Duration

	// mu serializes all ring and member-table access; the ring itself
	// carries no locking.
	mu      sync.RWMutex
	ring    *ring.Ring
	members map[ring.Hash]config.Peer // node identifier -> peer

	store          storage.Store
	client         *Client
	rebalancer     *rebalance.Rebalancer
	requestTimeout time.Duration
	httpServer     *http.Server
}

// NewNode builds a node from its configuration and seeds the ring with
// the configured members, self included.
func NewNode(cfg *config.Config, store storage.Store, hash keyhash.Func) (*Node, error) {
	if hash == nil {
		hash = keyhash.Default
	}

	rng, err := ring.New(ring.Config{
		RingSize:        cfg.RingSize,
		InitialCapacity: cfg.InitialCapacity,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build ring: %w", err)
	}

	n := &Node{
		id:             cfg.NodeID,
		listenAddr:     cfg.ListenAddr,
		hash:           hash,
		defaultTTL:     cfg.DefaultTTL.Std(),
		ring:           rng,
		members:        make(map[ring.Hash]config.Peer),
		store:          store,
		client:         NewClient(cfg.RequestTimeout.Std()),
		requestTimeout: cfg.RequestTimeout.Std(),
	}

	for _, peer := range cfg.SelfAndPeers() {
		if err := n.addMember(peer); err != nil {
			return nil, fmt.Errorf("failed to seed ring with peer %s: %w", peer.ID, err)
		}
	}

	n.rebalancer = rebalance.NewRebalancer(cfg.NodeID, store, n.ownerOfKey, n.client.Transfer, 0)
	return n, nil
}

// Start serves the HTTP API on the configured listen address and
// blocks until the server stops.
func (n *Node) Start() error {
	n.httpServer = &http.Server{
		Addr:    n.listenAddr,
		Handler: n.Handler(),
	}

	log.Printf("[%s] starting node on %s", n.id, n.listenAddr)
	if err := n.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (n *Node) Shutdown(ctx context.Context) error {
	if n.httpServer == nil {
		return nil
	}
	log.Printf("[%s] shutting down", n.id)
	return n.httpServer.Shutdown(ctx)
}

// Join adds a peer to this node's view of the ring and kicks a
// rebalance. A position collision surfaces the ring's ErrNodePresent.
func (n *Node) Join(peer config.Peer) error {
	if err := n.addMember(peer); err != nil {
		return err
	}
	log.Printf("[%s] member joined: %s (%s)", n.id, peer.ID, peer.Addr)
	n.rebalancer.Kick()
	return nil
}

// Leave removes a peer from this node's view of the ring. Removing an
// unknown peer is a no-op; a node cannot remove itself.
func (n *Node) Leave(peerID string) error {
	if peerID == n.id {
		return fmt.Errorf("node cannot remove itself from its own ring")
	}

	id := ring.Hash(n.hash([]byte(peerID)))

	n.mu.Lock()
	member, known := n.members[id]
	if known && member.ID != peerID {
		// The identifier belongs to a different peer; the named one was
		// never on this ring.
		known = false
	}
	if known {
		if err := n.ring.Delete(id); err != nil {
			n.mu.Unlock()
			return err
		}
		delete(n.members, id)
	}
	n.mu.Unlock()

	if known {
		log.Printf("[%s] member left: %s", n.id, peerID)
		n.rebalancer.Kick()
	}
	return nil
}

// Members returns this node's member table sorted by peer ID.
func (n *Node) Members() []config.Peer {
	n.mu.RLock()
	peers := make([]config.Peer, 0, len(n.members))
	for _, peer := range n.members {
		peers = append(peers, peer)
	}
	n.mu.RUnlock()

	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })
	return peers
}

func (n *Node) addMember(peer config.Peer) error {
	id := ring.Hash(n.hash([]byte(peer.ID)))

	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.ring.Insert(id); err != nil {
		return err
	}
	n.members[id] = peer
	return nil
}

// ownerOf resolves the owner of an item hash. self reports whether this
// node owns it; ok is false when the ring has no nodes.
func (n *Node) ownerOf(item uint64) (config.Peer, bool, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	id, ok := n.ring.Resolve(ring.Hash(item))
	if !ok {
		return config.Peer{}, false, false
	}
	peer, known := n.members[id]
	if !known {
		return config.Peer{}, false, false
	}
	return peer, peer.ID == n.id, true
}

// ownerOfKey resolves the owner of a cache key.
func (n *Node) ownerOfKey(key string) (config.Peer, bool, bool) {
	return n.ownerOf(n.hash([]byte(key)))
}

// RingInfo is the introspection view served at /ring.
type RingInfo struct {
	RingSize uint64         `json:"ring_size"`
	Count    int            `json:"count"`
	Capacity int            `json:"capacity"`
	Nodes    []RingInfoNode `json:"nodes"`
}

// RingInfoNode attributes one ring entry to its peer.
type RingInfoNode struct {
	ID       uint64 `json:"id"`
	Position uint64 `json:"position"`
	PeerID   string `json:"peer_id"`
	Addr     string `json:"addr"`
}

func (n *Node) ringInfo() RingInfo {
	n.mu.RLock()
	defer n.mu.RUnlock()

	info := RingInfo{
		RingSize: n.ring.RingSize(),
		Count:    n.ring.Len(),
		Capacity: n.ring.Cap(),
	}
	for _, node := range n.ring.Nodes() {
		peer := n.members[node.ID]
		info.Nodes = append(info.Nodes, RingInfoNode{
			ID:       uint64(node.ID),
			Position: node.Position,
			PeerID:   peer.ID,
			Addr:     peer.Addr,
		})
	}
	return info
}
