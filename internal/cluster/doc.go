// Package cluster implements a sharded cache node. Each node owns a
// consistent-hashing ring and a member table, routes key requests to
// the owning peer over HTTP, and serves operator-driven membership and
// introspection endpoints. Ring state is never gossiped: every node's
// view is maintained by its operator.
package cluster
