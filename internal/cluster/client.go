package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ringcache/internal/config"
	"ringcache/internal/storage"
)

const dialTimeout = 5 * time.Second

// Client issues HTTP requests to peer nodes. A single client is shared
// by the forwarding path, the batch read path, and the rebalancer.
type Client struct {
	http *http.Client
}

// NewClient creates a client with the given per-request timeout.
func NewClient(requestTimeout time.Duration) *Client {
	if requestTimeout <= 0 {
		requestTimeout = config.DefaultRequestTimeout
	}
	return &Client{
		http: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: dialTimeout}).DialContext,
				MaxIdleConnsPerHost: 4,
			},
		},
	}
}

// forward proxies a key request to its owner, marking it so the owner
// never forwards it a second time.
func (n *Node) forward(w http.ResponseWriter, r *http.Request, owner config.Peer) {
	ctx, cancel := context.WithTimeout(r.Context(), n.requestTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("http://%s%s", owner.Addr, r.URL.RequestURI())
	req, err := http.NewRequestWithContext(ctx, r.Method, endpoint, r.Body)
	if err != nil {
		http.Error(w, "failed to build forward request", http.StatusInternalServerError)
		return
	}
	req.Header.Set(forwardedHeader, forwardedValue)

	resp, err := n.client.http.Do(req)
	if err != nil {
		log.Printf("[%s] forward to %s failed: %v", n.id, owner.ID, err)
		http.Error(w, "owner unreachable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

// MGet fetches a peer's local values for keys.
func (c *Client) MGet(ctx context.Context, peer config.Peer, keys []string) (map[string][]byte, error) {
	endpoint := fmt.Sprintf("http://%s/mget?keys=%s", peer.Addr, url.QueryEscape(strings.Join(keys, ",")))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build mget request: %w", err)
	}
	req.Header.Set(forwardedHeader, forwardedValue)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mget against %s failed: %w", peer.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mget against %s returned status %d", peer.ID, resp.StatusCode)
	}

	var body mgetResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode mget response from %s: %w", peer.ID, err)
	}
	return body.Values, nil
}

// Transfer writes one entry to its new owner, carrying the remaining
// TTL explicitly so the owner's default TTL never applies.
func (c *Client) Transfer(ctx context.Context, peer config.Peer, key string, item storage.Item) error {
	endpoint := fmt.Sprintf("http://%s/kv/%s?ttl=%s", peer.Addr, url.PathEscape(key), item.TTL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(item.Value))
	if err != nil {
		return fmt.Errorf("failed to build transfer request: %w", err)
	}
	req.Header.Set(forwardedHeader, forwardedValue)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to transfer %s: %w", key, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("transfer of %s returned status %d", key, resp.StatusCode)
	}
	return nil
}
