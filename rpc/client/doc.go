// Package client implements RPC clients for dBucket. It provides typed clients
// for the shard and coordinator operations plus the two routed operations a
// writer and a reader need.
//
// Key Components:
//
//   - ShardClient: Addresses any shard by node id. Implements env.ShardClient, so
//     the coordinator pushes moderators through it.
//
//   - CoordinatorClient: Talks to one coordinator. Implements env.CoordinatorClient,
//     so shards publish their summaries through it.
//
//   - RPCClient: Bundles both on a shared transport. Post walks the upload order
//     until a shard accepts the entry; Fetch looks up the shards of a tag and
//     reads them in parallel.
//
// Errors reported by the addressed node are wrapped in ErrRemote. A refused
// operation (full shard, stale push) is not an error; it shows up as false.
//
// Usage Example:
//
//	config := common.ClientConfig{
//		Transport: common.TransportConfig{
//			Endpoints:  []string{"localhost:8080"},
//			RetryCount: 3,
//		},
//		Timeout: 5 * time.Second,
//		Caller:  "alice",
//	}
//
//	c, err := client.NewRPCClient(1, config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	if err != nil {
//		panic(err)
//	}
//	defer c.Close()
//
//	entries, err := c.Fetch(ctx, "cats")
package client
