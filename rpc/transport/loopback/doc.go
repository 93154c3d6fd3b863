// Package loopback provides an in-process client transport. The host process
// uses it for calls between the coordinator and the shards it serves, so those
// calls go through the same serializer and adapters as remote requests.
//
// Send returns once the handler answered or the context is done, whichever
// happens first. A handler that outlives the context finishes in the background.
package loopback
