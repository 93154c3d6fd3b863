package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ValentinKolb/dBucket/lib/types"
	"github.com/ValentinKolb/dBucket/rpc/common"
	"github.com/ValentinKolb/dBucket/rpc/serializer"
	"github.com/ValentinKolb/dBucket/rpc/transport"
	"golang.org/x/sync/errgroup"
)

// ErrNoCapacity is returned by Post when no shard accepted the entry
var ErrNoCapacity = errors.New("no shard with free capacity")

// maxParallelReads bounds the fan-out of Fetch
const maxParallelReads = 8

// RPCClient bundles the clients a writer or reader needs. All of them share one
// transport.
type RPCClient struct {
	Coordinator *CoordinatorClient
	Shards      *ShardClient
	transport   transport.IRPCClientTransport
}

// NewRPCClient connects the transport and creates the clients
//
// Usage:
//
//	c, err := client.NewRPCClient(1, config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//	shard, err := c.Post(ctx, "cats", "a picture of a cat")
func NewRPCClient(
	coordinator types.NodeID,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (*RPCClient, error) {
	if err := transport.Connect(config); err != nil {
		return nil, err
	}
	caller := types.Identity(config.Caller).Normalize()
	return &RPCClient{
		Coordinator: NewCoordinatorClient(coordinator, caller, config.Timeout, transport, serializer),
		Shards:      NewShardClient(caller, config.Timeout, transport, serializer),
		transport:   transport,
	}, nil
}

// Close closes the shared transport
func (c *RPCClient) Close() error {
	return c.transport.Close()
}

// Post submits an entry to the first shard of the upload order that accepts it
// and returns that shard. Shards that fail or are full are skipped.
func (c *RPCClient) Post(ctx context.Context, tag, body string) (types.NodeID, error) {
	order, err := c.Coordinator.UploadOrder(ctx)
	if err != nil {
		return 0, fmt.Errorf("upload order: %w", err)
	}

	var errs []error
	for _, id := range order {
		ok, err := c.Shards.Submit(ctx, id, tag, body)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			log.Debugf("submit to shard %d failed: %v", id, err)
			errs = append(errs, fmt.Errorf("shard %d: %w", id, err))
			continue
		}
		if ok {
			return id, nil
		}
	}
	return 0, errors.Join(append([]error{ErrNoCapacity}, errs...)...)
}

// Fetch collects the caller's and the anonymous entries under tag from every
// shard the coordinator lists for it, oldest first. It fails if any shard fails.
func (c *RPCClient) Fetch(ctx context.Context, tag string) ([]types.Entry, error) {
	shards, err := c.Coordinator.Lookup(ctx, tag)
	if err != nil {
		return nil, fmt.Errorf("lookup: %w", err)
	}

	var (
		mu      sync.Mutex
		entries []types.Entry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelReads)
	for _, id := range shards {
		g.Go(func() error {
			found, err := c.Shards.ListByTag(gctx, id, tag)
			if err != nil {
				return fmt.Errorf("shard %d: %w", id, err)
			}
			mu.Lock()
			entries = append(entries, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].SubmittedAt.Before(entries[j].SubmittedAt)
	})
	return entries, nil
}
