// Package cmd implements the command-line interface of dBucket. It provides a
// hierarchical command structure for running a host and for talking to it as
// a client.
//
// The package is organized into several subpackages:
//
//   - serve: Starts a host running the coordinator and its shards
//   - shard: Requests sent directly to one shard (submit, list, summary, ...)
//   - index: Requests sent to the coordinator (lookup, upload-order, add-moderator, ...)
//   - bucket: The post, fetch and perf commands that route through the coordinator
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dbucket -help for a list of all commands.
package cmd
