// Package coordinator implements the coordinator node of the content store.
//
// The coordinator keeps a GlobalIndex of the effective indexes pushed by shards,
// ranks shards for writers through package placement and grows the shard set on
// its own. Each Tick runs, in this order:
//
//  1. RebuildTagMap: invert all summaries into tag → shards, debounced.
//  2. Plan: enqueue one planned shard if planned capacity plus free slots is
//     below the desired free slots.
//  3. Execute: claim at most one new job under a lock token, create and install
//     the instance, then commit only if the token still owns the job.
//  4. Propagate moderators: broadcast a changed moderator set to every shard and
//     retry shards whose push failed.
//
// Failed provisioning attempts return their job to New. Instances that were
// created but never became shards are deleted again; if that fails as well they
// are kept in the orphan list reported by Metrics.
package coordinator
