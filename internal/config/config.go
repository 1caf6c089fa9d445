// Package config holds the node configuration: identity, listen
// address, static peer list, and the ring/storage tuning knobs. A node
// is configured from flags, an optional YAML file, or both, with flags
// taking precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Validate.
const (
	DefaultRingSize        = uint64(1) << 32
	DefaultInitialCapacity = 8
	DefaultRequestTimeout  = 2 * time.Second
)

// Duration is a time.Duration that unmarshals from YAML strings such
// as "500ms" or "2s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Peer represents a peer node in the cluster.
type Peer struct {
	ID   string `yaml:"id" json:"id"`
	Addr string `yaml:"addr" json:"addr"`
}

// Config holds the node configuration.
type Config struct {
	NodeID     string `yaml:"node_id"`
	ListenAddr string `yaml:"listen_addr"`
	Peers      []Peer `yaml:"peers"`

	// RingSize is the modulus of the hash ring's circular space.
	RingSize uint64 `yaml:"ring_size"`
	// InitialCapacity is the ring buffer's first allocation size.
	InitialCapacity int `yaml:"initial_capacity"`

	// MaxEntries bounds the local store; 0 means unbounded.
	MaxEntries int `yaml:"max_entries"`
	// DefaultTTL applies to values stored without an explicit TTL;
	// 0 means no expiration.
	DefaultTTL Duration `yaml:"default_ttl"`
	// RequestTimeout bounds each request to a peer.
	RequestTimeout Duration `yaml:"request_timeout"`
}

// Load reads a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &cfg, nil
}

// ParsePeers parses a comma-separated list of peers in the format:
// "id1=addr1,id2=addr2,id3=addr3"
func ParsePeers(peersStr string) ([]Peer, error) {
	if peersStr == "" {
		return []Peer{}, nil
	}

	parts := strings.Split(peersStr, ",")
	peers := make([]Peer, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid peer format: %s (expected id=addr)", part)
		}

		id := strings.TrimSpace(kv[0])
		addr := strings.TrimSpace(kv[1])

		if id == "" || addr == "" {
			return nil, fmt.Errorf("peer ID and address cannot be empty: %s", part)
		}

		peers = append(peers, Peer{
			ID:   id,
			Addr: addr,
		})
	}

	return peers, nil
}

// Validate applies defaults and rejects invalid configuration.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node ID cannot be empty")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if c.MaxEntries < 0 {
		return fmt.Errorf("max entries cannot be negative")
	}
	if c.DefaultTTL < 0 {
		return fmt.Errorf("default TTL cannot be negative")
	}

	if c.RingSize == 0 {
		c.RingSize = DefaultRingSize
	}
	if c.InitialCapacity <= 0 {
		c.InitialCapacity = DefaultInitialCapacity
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = Duration(DefaultRequestTimeout)
	}

	seen := make(map[string]bool, len(c.Peers))
	for _, peer := range c.Peers {
		if peer.ID == "" || peer.Addr == "" {
			return fmt.Errorf("peer ID and address cannot be empty")
		}
		if seen[peer.ID] {
			return fmt.Errorf("duplicate peer ID: %s", peer.ID)
		}
		seen[peer.ID] = true
	}

	return nil
}

// SelfAndPeers returns the full member list including this node, self
// first, with any peer entry duplicating the node itself dropped.
func (c *Config) SelfAndPeers() []Peer {
	members := make([]Peer, 0, len(c.Peers)+1)
	members = append(members, Peer{ID: c.NodeID, Addr: c.ListenAddr})

	for _, peer := range c.Peers {
		if peer.ID != c.NodeID {
			members = append(members, peer)
		}
	}

	return members
}
