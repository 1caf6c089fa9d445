package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ringcache/internal/cluster"
	"ringcache/internal/config"
	"ringcache/internal/keyhash"
	"ringcache/internal/storage"
)

func main() {
	var (
		configPath     = flag.String("config", "", "path to YAML config file")
		nodeID         = flag.String("id", "", "node ID")
		listenAddr     = flag.String("listen", "", "listen address (host:port)")
		peers          = flag.String("peers", "", "comma-separated peers (id1=addr1,id2=addr2)")
		ringSize       = flag.Uint64("ring-size", 0, "modulus of the hash ring")
		initialCap     = flag.Int("initial-capacity", 0, "initial ring buffer capacity")
		maxEntries     = flag.Int("max-entries", 0, "max entries in the local store (0 = unbounded)")
		defaultTTL     = flag.Duration("default-ttl", 0, "default TTL for stored values (0 = no expiry)")
		requestTimeout = flag.Duration("request-timeout", 0, "timeout for requests to peers")
	)
	flag.Parse()

	cfg := &config.Config{}
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		cfg = loaded
	}

	// Flags override the config file.
	if *nodeID != "" {
		cfg.NodeID = *nodeID
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *peers != "" {
		parsed, err := config.ParsePeers(*peers)
		if err != nil {
			log.Fatalf("failed to parse peers: %v", err)
		}
		cfg.Peers = parsed
	}
	if *ringSize != 0 {
		cfg.RingSize = *ringSize
	}
	if *initialCap != 0 {
		cfg.InitialCapacity = *initialCap
	}
	if *maxEntries != 0 {
		cfg.MaxEntries = *maxEntries
	}
	if *defaultTTL != 0 {
		cfg.DefaultTTL = config.Duration(*defaultTTL)
	}
	if *requestTimeout != 0 {
		cfg.RequestTimeout = config.Duration(*requestTimeout)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	store := storage.NewMemoryStore(cfg.MaxEntries, nil)
	node, err := cluster.NewNode(cfg, store, keyhash.Default)
	if err != nil {
		log.Fatalf("failed to build node: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- node.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("[%s] received %s, shutting down", cfg.NodeID, sig)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := node.Shutdown(ctx); err != nil {
			log.Fatalf("shutdown failed: %v", err)
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("node failed: %v", err)
		}
	}
}
