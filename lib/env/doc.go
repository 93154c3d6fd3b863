// Package env defines the capabilities a node consumes from its host: a clock, a
// source of lock tokens, the remote clients used to reach other nodes and the
// provisioner that creates new shard instances.
//
// Every capability has a production implementation (this package and rpc/client,
// rpc/server) and a deterministic test double in package envtest. Nodes receive
// them at construction time and never reach for ambient globals, which keeps the
// reconciliation logic of shards and the coordinator reproducible in tests.
package env
