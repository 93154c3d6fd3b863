package server

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dBucket/lib/env"
	"github.com/ValentinKolb/dBucket/lib/shard"
	"github.com/ValentinKolb/dBucket/lib/types"
	"github.com/lni/dragonboat/v4/logger"
)

var plog = logger.GetLogger("provision")

// hostProvisioner creates shard instances inside this host process. Node ids are
// handed out after the coordinator id and never reused. Installed shards start
// ticking on Activate.
type hostProvisioner struct {
	server *RPCServer
}

// --------------------------------------------------------------------------
// Interface Methods (docu see env.Provisioner)
// --------------------------------------------------------------------------

func (p *hostProvisioner) CreateInstance(ctx context.Context, settings env.InstanceSettings) (types.NodeID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if p.server.stopping.Load() {
		return 0, fmt.Errorf("host is shutting down")
	}

	id := p.server.nextID.Add(1)
	p.server.nodes.Store(id, serverNode{
		Adapter:  pendingAdapter{id: id},
		Settings: settings,
	})
	plog.Infof("created instance %d", id)
	return types.NodeID(id), nil
}

func (p *hostProvisioner) Install(ctx context.Context, id types.NodeID, args env.InstallArgs) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if p.server.stopping.Load() {
		return false, fmt.Errorf("host is shutting down")
	}

	cfg := p.server.config
	var installed *shard.Shard
	_, ok := p.server.nodes.Compute(uint64(id), func(node serverNode, loaded bool) (serverNode, bool) {
		if !loaded || node.Shard != nil || node.Coordinator != nil {
			// unknown or already running, leave the table as it is
			return node, !loaded
		}
		installed = shard.New(shard.Config{
			ID:                id,
			Coordinator:       args.Coordinator,
			MaxEntries:        args.MaxEntries,
			ReindexInterval:   cfg.ReindexInterval,
			CallTimeout:       cfg.CallTimeout,
			Controllers:       node.Settings.Controllers,
			Moderators:        args.Moderators,
			ModeratorsVersion: args.ModeratorsVersion,
		}, p.server.clock, p.server.tokens, p.server.peers.As(types.NodeIdentity(id)))
		node.Shard = installed
		node.Adapter = NewShardServerAdapter(installed)
		return node, false
	})
	if !ok || installed == nil {
		return false, fmt.Errorf("instance %d cannot be installed", id)
	}

	plog.Infof("installed shard %d with capacity %d", id, installed.Summary().MaxEntries)
	return true, nil
}

// Activate starts the tick scheduler of an installed shard. Until then the shard
// serves requests but does not publish its summary.
func (p *hostProvisioner) Activate(ctx context.Context, id types.NodeID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.server.stopping.Load() {
		return fmt.Errorf("host is shutting down")
	}
	node, ok := p.server.nodes.Load(uint64(id))
	if !ok || node.Shard == nil {
		return fmt.Errorf("instance %d is not installed", id)
	}
	if _, running := p.server.schedulers.Load(uint64(id)); running {
		return nil
	}

	p.server.startScheduler(uint64(id), fmt.Sprintf("shard %d", id), node.Shard)
	plog.Infof("activated shard %d", id)
	return nil
}

func (p *hostProvisioner) DeleteInstance(ctx context.Context, id types.NodeID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	node, ok := p.server.nodes.Load(uint64(id))
	if !ok {
		return fmt.Errorf("instance %d not found", id)
	}
	if node.Coordinator != nil {
		return fmt.Errorf("node %d is the coordinator", id)
	}

	p.server.stopScheduler(uint64(id))
	p.server.nodes.Delete(uint64(id))
	plog.Infof("deleted instance %d", id)
	return nil
}
