package it

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startCluster(t *testing.T, basePort int) (*Cluster, context.Context) {
	t.Helper()

	binaryPath := "./ringcache"
	if _, err := os.Stat(binaryPath); os.IsNotExist(err) {
		t.Skip("Binary not found, skipping integration test. Build with: go build -o ringcache ./cmd/ringcache")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	cluster, err := NewCluster(binaryPath)
	require.NoError(t, err)
	t.Cleanup(cluster.Stop)

	require.NoError(t, cluster.StartCluster(ctx, basePort), "failed to start cluster")
	return cluster, ctx
}

func TestSmoke_PutGetDelete_CrossNode(t *testing.T) {
	cluster, ctx := startCluster(t, 7401)

	// Write through n1, read through every node: the ring must route
	// all three views to the same owner.
	require.NoError(t, cluster.PutKey(ctx, "n1", "test-key", []byte("test-value")))

	for _, nodeID := range []string{"n1", "n2", "n3"} {
		value, status, err := cluster.GetKey(ctx, nodeID, "test-key")
		require.NoError(t, err)
		assert.Equal(t, 200, status, "get via %s", nodeID)
		assert.Equal(t, "test-value", string(value), "get via %s", nodeID)
	}

	status, err := cluster.DeleteKey(ctx, "n2", "test-key")
	require.NoError(t, err)
	assert.Equal(t, 204, status)

	_, status, err = cluster.GetKey(ctx, "n3", "test-key")
	require.NoError(t, err)
	assert.Equal(t, 404, status, "key readable after delete")
}

func TestSmoke_MGet(t *testing.T) {
	cluster, ctx := startCluster(t, 7411)

	keys := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("batch-key-%d", i)
		require.NoError(t, cluster.PutKey(ctx, "n1", key, []byte(fmt.Sprintf("value-%d", i))))
		keys = append(keys, key)
	}

	values, err := cluster.MGet(ctx, "n2", append(keys, "no-such-key"))
	require.NoError(t, err)

	assert.Len(t, values, len(keys))
	for i, key := range keys {
		assert.Equal(t, fmt.Sprintf("value-%d", i), string(values[key]))
	}
	assert.NotContains(t, values, "no-such-key")
}

func TestSmoke_JoinFourthNode(t *testing.T) {
	cluster, ctx := startCluster(t, 7421)

	keys := make([]string, 0, 30)
	for i := 0; i < 30; i++ {
		key := fmt.Sprintf("join-key-%d", i)
		require.NoError(t, cluster.PutKey(ctx, "n1", key, []byte("v")))
		keys = append(keys, key)
	}

	// Start n4 knowing the whole cluster, then tell every existing node
	// about n4; each join kicks an async rebalance.
	n4Port := 7424
	n4Addr := fmt.Sprintf("127.0.0.1:%d", n4Port)
	peers := fmt.Sprintf("n1=127.0.0.1:%d,n2=127.0.0.1:%d,n3=127.0.0.1:%d", 7421, 7422, 7423)
	require.NoError(t, cluster.StartNode(ctx, "n4", n4Port, peers))

	for _, nodeID := range []string{"n1", "n2", "n3"} {
		require.NoError(t, cluster.JoinPeer(ctx, nodeID, "n4", n4Addr))
	}

	// Every key must keep resolving from every node once the
	// rebalancers have shipped entries to their new owners.
	for _, key := range keys {
		require.Eventually(t, func() bool {
			for _, nodeID := range []string{"n1", "n2", "n3", "n4"} {
				value, status, err := cluster.GetKey(ctx, nodeID, key)
				if err != nil || status != 200 || string(value) != "v" {
					return false
				}
			}
			return true
		}, 15*time.Second, 200*time.Millisecond, "key %s lost after join", key)
	}
}
