// Package fanout runs the same call against a set of peers in
// parallel, each under its own timeout, and collects per-peer
// outcomes. The batch read path and the rebalancer both route their
// peer traffic through it.
package fanout
