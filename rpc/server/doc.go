// Package server implements the RPC server of a dBucket host. One host process
// runs the coordinator and every shard the coordinator provisions; all of them
// share one transport listener and are addressed by node id.
//
// Key Components:
//
//   - IRPCServerAdapter: Interface defining the contract for all server adapters.
//     Each node of the host has its own adapter.
//
//   - NewShardServerAdapter / NewCoordinatorServerAdapter: Translate RPC requests
//     into calls on a shard or on the coordinator and map errors into the response.
//
//   - hostProvisioner: The coordinator's provisioner. CreateInstance reserves the
//     next node id, Install turns the instance into a shard and Activate starts its
//     tick scheduler once the coordinator committed it. DeleteInstance removes it
//     again.
//
//   - NewRPCServer: Creates the server with the specified transport and serializer.
//
// Shards and coordinator talk to each other through a loopback transport, which
// runs the same serializer and adapters as remote requests do.
//
// On Stop every scheduler is halted and, if a snapshot path is configured, the
// state of all nodes is written to it. The next Start restores it.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Transport:        common.TransportConfig{Endpoint: "0.0.0.0:8080"},
//	  CoordinatorID:    1,
//	  DesiredFreeSlots: 60,
//	  ShardCapacity:    20,
//	  TickInterval:     time.Second,
//	  SnapshotPath:     "/var/lib/dbucket/state.snap",
//	}
//
//	s := server.NewRPCServer(config, tcp.NewTCPServerTransport(0, 0), serializer.NewBinarySerializer())
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer stop()
//	if err := s.Serve(ctx); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
package server
