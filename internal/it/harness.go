// Package it holds the integration harness: it execs the built
// ringcache binary into a local cluster and drives the public HTTP API.
package it

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Cluster represents a test cluster of ringcache processes.
type Cluster struct {
	mu         sync.Mutex
	nodes      []*Node
	logDir     string
	binaryPath string
	client     *http.Client
}

// Node represents a single node process in the test cluster.
type Node struct {
	ID      string
	Addr    string
	Port    int
	cmd     *exec.Cmd
	logFile *os.File
}

// NewCluster creates a new test cluster harness around a built binary.
func NewCluster(binaryPath string) (*Cluster, error) {
	logDir := filepath.Join(".local", "it-logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	return &Cluster{
		logDir:     logDir,
		binaryPath: binaryPath,
		client:     &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// StartNode starts one node process with the given static peer list
// ("id1=addr1,id2=addr2") and waits for it to become healthy.
func (c *Cluster) StartNode(ctx context.Context, nodeID string, port int, peers string) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	logPath := filepath.Join(c.logDir, fmt.Sprintf("%s.log", nodeID))
	logFile, err := os.Create(logPath)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.binaryPath,
		"-id", nodeID,
		"-listen", addr,
		"-peers", peers,
	)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("failed to start node %s: %w", nodeID, err)
	}

	node := &Node{
		ID:      nodeID,
		Addr:    addr,
		Port:    port,
		cmd:     cmd,
		logFile: logFile,
	}

	if err := c.waitForReady(ctx, node, 10*time.Second); err != nil {
		node.Stop()
		logFile.Close()
		return fmt.Errorf("node %s failed to become ready: %w", nodeID, err)
	}

	c.mu.Lock()
	c.nodes = append(c.nodes, node)
	c.mu.Unlock()
	return nil
}

// StartCluster starts a 3-node cluster where every node carries the
// full static peer list, so all membership views agree from the start.
func (c *Cluster) StartCluster(ctx context.Context, basePort int) error {
	type member struct {
		id   string
		port int
	}
	members := []member{
		{"n1", basePort},
		{"n2", basePort + 1},
		{"n3", basePort + 2},
	}

	for _, m := range members {
		var peers []string
		for _, other := range members {
			if other.id != m.id {
				peers = append(peers, fmt.Sprintf("%s=127.0.0.1:%d", other.id, other.port))
			}
		}
		if err := c.StartNode(ctx, m.id, m.port, strings.Join(peers, ",")); err != nil {
			c.Stop()
			return fmt.Errorf("failed to start node %s: %w", m.id, err)
		}
	}
	return nil
}

func (c *Cluster) waitForReady(ctx context.Context, node *Node, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return fmt.Errorf("timeout waiting for node %s", node.ID)
			}
			resp, err := c.client.Get(fmt.Sprintf("http://%s/healthz", node.Addr))
			if err != nil {
				continue
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
	}
}

// Stop stops all nodes in the cluster.
func (c *Cluster) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, node := range c.nodes {
		node.Stop()
	}
	c.nodes = nil
}

// Stop stops a single node process.
func (n *Node) Stop() {
	if n.cmd != nil && n.cmd.Process != nil {
		n.cmd.Process.Kill()
		n.cmd.Wait()
	}
	if n.logFile != nil {
		n.logFile.Close()
	}
}

// GetNode returns a node by ID.
func (c *Cluster) GetNode(nodeID string) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, n := range c.nodes {
		if n.ID == nodeID {
			return n
		}
	}
	return nil
}

// PutKey stores value under key via the given node.
func (c *Cluster) PutKey(ctx context.Context, nodeID, key string, value []byte) error {
	resp, _, err := c.do(ctx, http.MethodPut, nodeID, "/kv/"+key, value)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("put %s via %s: status %d", key, nodeID, resp.StatusCode)
	}
	return nil
}

// GetKey fetches key via the given node, returning the value and the
// HTTP status code.
func (c *Cluster) GetKey(ctx context.Context, nodeID, key string) ([]byte, int, error) {
	resp, body, err := c.do(ctx, http.MethodGet, nodeID, "/kv/"+key, nil)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

// DeleteKey deletes key via the given node, returning the status code.
func (c *Cluster) DeleteKey(ctx context.Context, nodeID, key string) (int, error) {
	resp, _, err := c.do(ctx, http.MethodDelete, nodeID, "/kv/"+key, nil)
	if err != nil {
		return 0, err
	}
	return resp.StatusCode, nil
}

// MGet batch-fetches keys via the given node.
func (c *Cluster) MGet(ctx context.Context, nodeID string, keys []string) (map[string][]byte, error) {
	resp, body, err := c.do(ctx, http.MethodGet, nodeID, "/mget?keys="+strings.Join(keys, ","), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mget via %s: status %d", nodeID, resp.StatusCode)
	}
	var decoded struct {
		Values map[string][]byte `json:"values"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode mget response: %w", err)
	}
	return decoded.Values, nil
}

// JoinPeer tells nodeID to add peerID at peerAddr to its ring.
func (c *Cluster) JoinPeer(ctx context.Context, nodeID, peerID, peerAddr string) error {
	payload := fmt.Sprintf(`{"id":%q,"addr":%q}`, peerID, peerAddr)
	resp, _, err := c.do(ctx, http.MethodPost, nodeID, "/peers", []byte(payload))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("join %s via %s: status %d", peerID, nodeID, resp.StatusCode)
	}
	return nil
}

func (c *Cluster) do(ctx context.Context, method, nodeID, path string, body []byte) (*http.Response, []byte, error) {
	node := c.GetNode(nodeID)
	if node == nil {
		return nil, nil, fmt.Errorf("unknown node %s", nodeID)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fmt.Sprintf("http://%s%s", node.Addr, path), reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s %s via %s failed: %w", method, path, nodeID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp, data, nil
}
