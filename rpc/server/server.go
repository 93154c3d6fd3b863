package server

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ValentinKolb/dBucket/lib/coordinator"
	"github.com/ValentinKolb/dBucket/lib/env"
	"github.com/ValentinKolb/dBucket/lib/placement"
	"github.com/ValentinKolb/dBucket/lib/shard"
	"github.com/ValentinKolb/dBucket/lib/snapshot"
	"github.com/ValentinKolb/dBucket/lib/tick"
	"github.com/ValentinKolb/dBucket/lib/types"
	"github.com/ValentinKolb/dBucket/rpc/client"
	"github.com/ValentinKolb/dBucket/rpc/common"
	"github.com/ValentinKolb/dBucket/rpc/serializer"
	"github.com/ValentinKolb/dBucket/rpc/transport"
	"github.com/ValentinKolb/dBucket/rpc/transport/loopback"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("server")

const (
	defaultTickInterval    = time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// serverNode is an entry of the node table. Exactly one of coordinator and
// shard is set once the node is running; a created but not yet installed
// instance only carries its settings.
type serverNode struct {
	Adapter     IRPCServerAdapter
	Coordinator *coordinator.Coordinator
	Shard       *shard.Shard
	Settings    env.InstanceSettings
}

// hostState is what the server persists between runs
type hostState struct {
	NextID      uint64
	Coordinator coordinator.State
	Shards      []shard.State
}

// NewRPCServer creates a new RPC server hosting the coordinator and every shard it
// provisions. It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		config,
//		tcp.NewTCPServerTransport(0, 0),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(ctx); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		clock:      env.SystemClock{},
		tokens:     env.RandomTokens{},
		nodes:      xsync.NewMapOf[uint64, serverNode](),
		schedulers: xsync.NewMapOf[uint64, *tick.Scheduler](),
	}
}

// RPCServer routes requests to the coordinator and the shards of this host
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	clock      env.Clock
	tokens     env.TokenSource

	nodes      *xsync.MapOf[uint64, serverNode]
	schedulers *xsync.MapOf[uint64, *tick.Scheduler]
	nextID     atomic.Uint64

	coordinator *coordinator.Coordinator
	peers       *client.CoordinatorClient // used by the shards of this host
	local       transport.IRPCClientTransport
	metrics     *metricsEndpoint

	startOnce sync.Once
	stopOnce  sync.Once
	startErr  error
	stopping  atomic.Bool
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Serve starts the server and blocks until ctx is done or the transport fails.
// On return the schedulers are stopped and the state is saved.
func (s *RPCServer) Serve(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	s.transport.RegisterHandler(s.Handle)
	listenErr := make(chan error, 1)
	go func() {
		listenErr <- s.transport.Listen(s.config)
	}()

	var err error
	select {
	case <-ctx.Done():
		log.Infof("shutting down")
	case err = <-listenErr:
		if err != nil {
			log.Errorf("transport failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), max(s.config.Timeout, s.config.CallTimeout, defaultShutdownTimeout))
	defer cancel()
	if shutdownErr := s.transport.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Warningf("transport shutdown: %v", shutdownErr)
	}
	return errors.Join(err, s.Stop(shutdownCtx))
}

// Start restores the saved state (if any), creates the coordinator and starts
// ticking. Requests can be handled once Start returned.
func (s *RPCServer) Start() error {
	s.startOnce.Do(func() {
		s.startErr = s.init()
	})
	return s.startErr
}

// Stop halts every scheduler, saves the state and closes the metrics endpoint
func (s *RPCServer) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		// No new shards once the coordinator stopped ticking
		s.stopping.Store(true)
		s.stopScheduler(s.config.CoordinatorID)
		s.schedulers.Range(func(id uint64, sch *tick.Scheduler) bool {
			sch.Stop()
			return true
		})
		if s.metrics != nil {
			err = errors.Join(err, s.metrics.shutdown(ctx))
		}
		if s.config.SnapshotPath != "" && s.coordinator != nil {
			err = errors.Join(err, snapshot.Save(s.config.SnapshotPath, s.state()))
		}
		if s.local != nil {
			err = errors.Join(err, s.local.Close())
		}
	})
	return err
}

// Coordinator returns the coordinator of this host (nil before Start)
func (s *RPCServer) Coordinator() *coordinator.Coordinator { return s.coordinator }

// Shard returns a running shard of this host
func (s *RPCServer) Shard(id types.NodeID) (*shard.Shard, bool) {
	node, ok := s.nodes.Load(uint64(id))
	if !ok || node.Shard == nil {
		return nil, false
	}
	return node.Shard, true
}

// LocalTransport returns an in-process client transport bound to this server
func (s *RPCServer) LocalTransport() transport.IRPCClientTransport {
	return loopback.NewClientTransport(s.Handle)
}

// --------------------------------------------------------------------------
// Request handling
// --------------------------------------------------------------------------

// Handle decodes a request, passes it to the addressed node and encodes the answer
func (s *RPCServer) Handle(nodeId uint64, req []byte) []byte {
	var msg common.Message
	var respMsg *common.Message

	node, ok := s.nodes.Load(nodeId)
	if !ok {
		respMsg = common.NewErrorResponse(fmt.Sprintf("node %d not found", nodeId))
	} else if err := s.serializer.Deserialize(req, &msg); err != nil {
		respMsg = common.NewErrorResponse(fmt.Sprintf("failed to deserialize request: %s", err))
	} else {
		respMsg = node.Adapter.Handle(&msg)
	}

	val, err := s.serializer.Serialize(*respMsg)
	if err != nil {
		log.Errorf("failed to serialize %s response: %v", respMsg.MsgType, err)
		val, _ = s.serializer.Serialize(*common.NewErrorResponse(fmt.Sprintf("failed to serialize response: %s", err)))
	}
	return val
}

// --------------------------------------------------------------------------
// Setup
// --------------------------------------------------------------------------

func (s *RPCServer) init() error {
	if err := common.InitLoggers(s.config.LogLevel); err != nil {
		return err
	}
	log.Infof("%s", s.config.String())

	coordinatorID := types.NodeID(s.config.CoordinatorID)
	if coordinatorID == 0 {
		return fmt.Errorf("coordinator id must not be 0")
	}
	strategy := placement.BalancedLoad
	var err error
	if s.config.Strategy != "" {
		if strategy, err = placement.ParseStrategy(s.config.Strategy); err != nil {
			return err
		}
	}

	// Calls between the nodes of this host use the same codec as remote callers
	s.local = loopback.NewClientTransport(s.Handle)
	shards := client.NewShardClient(types.NodeIdentity(coordinatorID), 0, s.local, s.serializer)
	s.peers = client.NewCoordinatorClient(coordinatorID, types.Anonymous, 0, s.local, s.serializer)

	var saved hostState
	found := false
	if s.config.SnapshotPath != "" {
		if found, err = snapshot.Load(s.config.SnapshotPath, &saved); err != nil {
			return err
		}
	}

	provisioner := &hostProvisioner{server: s}
	if found {
		if saved.Coordinator.Config.ID != coordinatorID {
			return fmt.Errorf("snapshot belongs to coordinator %d, configured %d", saved.Coordinator.Config.ID, coordinatorID)
		}
		s.coordinator, err = coordinator.Restore(saved.Coordinator, s.clock, s.tokens, shards, provisioner)
		if err != nil {
			return fmt.Errorf("restore coordinator: %w", err)
		}
		s.nextID.Store(max(saved.NextID, s.config.CoordinatorID))
	} else {
		s.coordinator = coordinator.New(coordinator.Config{
			ID:               coordinatorID,
			DesiredFreeSlots: s.config.DesiredFreeSlots,
			ShardCapacity:    s.config.ShardCapacity,
			RebuildInterval:  s.config.RebuildInterval,
			CallTimeout:      s.config.CallTimeout,
			Strategy:         strategy,
			Controllers:      toIdentities(s.config.Controllers),
		}, s.clock, s.tokens, shards, provisioner)
		s.nextID.Store(s.config.CoordinatorID)
	}

	// The coordinator is reachable before any shard starts publishing
	s.nodes.Store(uint64(coordinatorID), serverNode{
		Adapter:     NewCoordinatorServerAdapter(s.coordinator),
		Coordinator: s.coordinator,
	})

	for _, st := range saved.Shards {
		sh, err := shard.Restore(st, s.clock, s.tokens, s.peers.As(types.NodeIdentity(st.Config.ID)))
		if err != nil {
			return fmt.Errorf("restore shard %d: %w", st.Config.ID, err)
		}
		s.runShard(sh)
	}
	if found {
		log.Infof("restored coordinator %d with %d shards", coordinatorID, len(saved.Shards))
	}

	s.startScheduler(uint64(coordinatorID), "coordinator", s.coordinator)

	if s.config.MetricsEndpoint != "" {
		s.metrics, err = startMetricsEndpoint(s.config.MetricsEndpoint, s.coordinator)
		if err != nil {
			return err
		}
	}

	log.Infof("dBucket host started, coordinator %d", coordinatorID)
	return nil
}

// runShard registers a shard in the node table and starts its ticks
func (s *RPCServer) runShard(sh *shard.Shard) {
	s.nodes.Store(uint64(sh.ID()), serverNode{
		Adapter: NewShardServerAdapter(sh),
		Shard:   sh,
	})
	s.startScheduler(uint64(sh.ID()), fmt.Sprintf("shard %d", sh.ID()), sh)
}

func (s *RPCServer) startScheduler(id uint64, name string, node tick.Ticker) {
	interval := s.config.TickInterval
	if interval <= 0 {
		interval = defaultTickInterval
	}
	sch := tick.NewScheduler(name, interval, node)
	if old, loaded := s.schedulers.LoadAndStore(id, sch); loaded {
		old.Stop()
	}
	sch.Start()
}

func (s *RPCServer) stopScheduler(id uint64) {
	if sch, ok := s.schedulers.LoadAndDelete(id); ok {
		sch.Stop()
	}
}

// state collects the coordinator and every running shard
func (s *RPCServer) state() hostState {
	st := hostState{
		NextID:      s.nextID.Load(),
		Coordinator: s.coordinator.Snapshot(),
	}
	s.nodes.Range(func(id uint64, node serverNode) bool {
		if node.Shard != nil {
			st.Shards = append(st.Shards, node.Shard.Snapshot())
		}
		return true
	})
	return st
}

func toIdentities(names []string) []types.Identity {
	out := make([]types.Identity, 0, len(names))
	for _, n := range names {
		if n != "" {
			out = append(out, types.Identity(n))
		}
	}
	return out
}
