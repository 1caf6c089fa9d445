package fanout

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultCallTimeout is the per-peer timeout used when the caller does
// not supply one.
const DefaultCallTimeout = 2 * time.Second

// CallFunc performs one call against a single peer.
type CallFunc func(ctx context.Context, peerID string) error

// Result records the outcome of one peer call.
type Result struct {
	PeerID string
	Err    error
}

// Do invokes fn once per peer, all in parallel. Each call runs under
// its own timeout derived from ctx, so cancelling ctx cancels every
// outstanding call. Results are returned in peer order; Do waits for
// all calls to finish.
func Do(ctx context.Context, peers []string, timeout time.Duration, fn CallFunc) []Result {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	results := make([]Result, len(peers))

	var wg sync.WaitGroup
	for i, peerID := range peers {
		wg.Add(1)
		go func(i int, pid string) {
			defer wg.Done()

			callCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			if err := fn(callCtx, pid); err != nil {
				results[i] = Result{PeerID: pid, Err: fmt.Errorf("peer %s: %w", pid, err)}
				return
			}
			results[i] = Result{PeerID: pid}
		}(i, peerID)
	}
	wg.Wait()

	return results
}

// Failed returns the results that carry an error.
func Failed(results []Result) []Result {
	var failed []Result
	for _, res := range results {
		if res.Err != nil {
			failed = append(failed, res)
		}
	}
	return failed
}

// FirstError returns the first error among results, or nil when every
// call succeeded.
func FirstError(results []Result) error {
	for _, res := range results {
		if res.Err != nil {
			return res.Err
		}
	}
	return nil
}
