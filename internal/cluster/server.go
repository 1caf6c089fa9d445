package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"ringcache/internal/config"
	"ringcache/internal/fanout"
	"ringcache/internal/ring"
)

const (
	// forwardedHeader marks a request that was already routed once. A
	// node receiving it serves locally rather than forwarding again, so
	// disagreeing membership views cannot produce loops.
	forwardedHeader = "X-Ringcache-Forwarded"
	forwardedValue  = "true"

	// maxValueBytes bounds a single stored value.
	maxValueBytes = 4 << 20
)

// Handler returns the node's HTTP API.
func (n *Node) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/kv/", n.handleKV)
	mux.HandleFunc("/mget", n.handleMGet)
	mux.HandleFunc("/peers", n.handlePeers)
	mux.HandleFunc("/peers/", n.handlePeer)
	mux.HandleFunc("/ring", n.handleRing)
	mux.HandleFunc("/healthz", n.handleHealthz)
	return mux
}

func (n *Node) handleKV(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/kv/")
	if key == "" {
		http.Error(w, "missing key", http.StatusBadRequest)
		return
	}

	owner, self, ok := n.ownerOfKey(key)
	if !ok {
		http.Error(w, "ring is empty", http.StatusServiceUnavailable)
		return
	}

	if !self {
		if r.Header.Get(forwardedHeader) == "" {
			n.forward(w, r, owner)
			return
		}
		// Membership views disagree; answer locally rather than loop.
		log.Printf("[%s] serving forwarded request for key %q locally (owner here: %s)", n.id, key, owner.ID)
	}

	switch r.Method {
	case http.MethodGet:
		n.localGet(w, key)
	case http.MethodPut:
		n.localPut(w, r, key)
	case http.MethodDelete:
		n.localDelete(w, key)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (n *Node) localGet(w http.ResponseWriter, key string) {
	value, ok := n.store.Get(key)
	if !ok {
		http.Error(w, "key not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(value)
}

func (n *Node) localPut(w http.ResponseWriter, r *http.Request, key string) {
	value, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxValueBytes))
	if err != nil {
		http.Error(w, "failed to read value", http.StatusBadRequest)
		return
	}

	ttl := n.defaultTTL
	if raw := r.URL.Query().Get("ttl"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid ttl", http.StatusBadRequest)
			return
		}
		ttl = parsed
	}

	n.store.Set(key, value, ttl)
	w.WriteHeader(http.StatusNoContent)
}

func (n *Node) localDelete(w http.ResponseWriter, key string) {
	if !n.store.Delete(key) {
		http.Error(w, "key not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type mgetResponse struct {
	Values map[string][]byte `json:"values"`
}

func (n *Node) handleMGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	raw := r.URL.Query().Get("keys")
	if raw == "" {
		http.Error(w, "missing keys", http.StatusBadRequest)
		return
	}
	keys := strings.Split(raw, ",")

	values := make(map[string][]byte)

	// A forwarded batch is answered purely from local storage.
	if r.Header.Get(forwardedHeader) != "" {
		for _, key := range keys {
			if v, ok := n.store.Get(key); ok {
				values[key] = v
			}
		}
		writeJSON(w, mgetResponse{Values: values})
		return
	}

	local := make([]string, 0, len(keys))
	groups := make(map[string][]string)
	peersByID := make(map[string]config.Peer)
	for _, key := range keys {
		owner, self, ok := n.ownerOfKey(key)
		if !ok {
			http.Error(w, "ring is empty", http.StatusServiceUnavailable)
			return
		}
		if self {
			local = append(local, key)
			continue
		}
		groups[owner.ID] = append(groups[owner.ID], key)
		peersByID[owner.ID] = owner
	}

	for _, key := range local {
		if v, ok := n.store.Get(key); ok {
			values[key] = v
		}
	}

	if len(groups) > 0 {
		peerIDs := make([]string, 0, len(groups))
		for id := range groups {
			peerIDs = append(peerIDs, id)
		}
		sort.Strings(peerIDs)

		var mu sync.Mutex
		results := fanout.Do(r.Context(), peerIDs, n.requestTimeout, func(ctx context.Context, peerID string) error {
			remote, err := n.client.MGet(ctx, peersByID[peerID], groups[peerID])
			if err != nil {
				return err
			}
			mu.Lock()
			for k, v := range remote {
				values[k] = v
			}
			mu.Unlock()
			return nil
		})

		// Partial failures degrade to missing entries.
		for _, res := range fanout.Failed(results) {
			log.Printf("[%s] mget: %v", n.id, res.Err)
		}
	}

	writeJSON(w, mgetResponse{Values: values})
}

type peersResponse struct {
	Peers []config.Peer `json:"peers"`
}

func (n *Node) handlePeers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, peersResponse{Peers: n.Members()})
	case http.MethodPost:
		var peer config.Peer
		if err := json.NewDecoder(r.Body).Decode(&peer); err != nil {
			http.Error(w, "invalid peer body", http.StatusBadRequest)
			return
		}
		if peer.ID == "" || peer.Addr == "" {
			http.Error(w, "peer ID and address cannot be empty", http.StatusBadRequest)
			return
		}
		if err := n.Join(peer); err != nil {
			if errors.Is(err, ring.ErrNodePresent) {
				http.Error(w, fmt.Sprintf("position collision: %v", err), http.StatusConflict)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (n *Node) handlePeer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	peerID := strings.TrimPrefix(r.URL.Path, "/peers/")
	if peerID == "" {
		http.Error(w, "missing peer ID", http.StatusBadRequest)
		return
	}
	if err := n.Leave(peerID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (n *Node) handleRing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, n.ringInfo())
}

func (n *Node) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "ok")
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}
