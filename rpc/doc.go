// Package rpc is the communication layer of dBucket. Writers, readers, the
// coordinator and the shards all talk through it, whether they share a host
// process or not.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures used across the RPC system, including the
//     Message protocol, configuration structures, and logging.
//
//   - transport: Network communication abstractions with pluggable implementations
//     (TCP, HTTP, and an in-process loopback).
//
//   - serializer: Message serialization with multiple format options (Binary, JSON, GOB)
//     for converting between Message objects and byte arrays.
//
//   - client: Typed clients for shards and the coordinator, plus the Post and
//     Fetch routing built on top of them.
//
//   - server: The host process. It keeps a table of nodes, routes every request
//     to the addressed node and provisions new shards for the coordinator.
package rpc
