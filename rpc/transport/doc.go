// Package transport defines the interfaces and abstractions for RPC communication
// between dBucket callers and the host process serving the coordinator and its
// shards. It provides a common contract that all transport implementations must
// fulfill, enabling protocol-agnostic communication.
//
// Every request carries the id of the addressed node. The coordinator and each
// shard share one listener; the server routes by that id.
//
// Key Components:
//
//   - IRPCClientTransport: Interface for client-side transport implementations that
//     handles connection management and request sending.
//
//   - IRPCServerTransport: Interface for server-side transport implementations that
//     receives requests and routes them to appropriate handlers.
//
//   - ServerHandleFunc: Function type for request handling callbacks.
//
// Implementations live in the sub packages http, tcp (on top of base) and
// loopback, which calls a handler in-process.
package transport
