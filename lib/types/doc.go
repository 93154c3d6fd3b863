// Package types holds the value types shared by shards, the coordinator and the
// rpc layer: entries, caller identities, node ids and the effective index a shard
// publishes about itself.
package types
