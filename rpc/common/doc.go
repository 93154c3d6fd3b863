// Package common provides the data structures shared by every part of the rpc
// layer: the Message protocol, the server and client configuration and the
// logger factory installed into dragonboat's logger registry.
//
// Key Components:
//
//   - Message: the single envelope used for requests and responses of both node
//     kinds. Factory functions build the request and response of every operation.
//
//   - MessageType: enumeration of all operations, grouped into shard operations,
//     coordinator operations and control messages. It is marshalled to JSON as a
//     readable string.
//
//   - ServerConfig / ClientConfig: typed configuration filled by the cli from
//     flags and environment variables.
//
//   - Logger: "LEVEL | component | message" formatting for every named logger.
package common
