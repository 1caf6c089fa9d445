// Package rebalance migrates locally stored entries whose ring owner
// changed after a membership change, so that only the minimal fraction
// of keys moves between nodes. Runs are fire-and-forget: failures are
// logged and the affected entries stay local until a later run.
package rebalance
