package client

import (
	"context"
	"time"

	"github.com/ValentinKolb/dBucket/lib/types"
	"github.com/ValentinKolb/dBucket/rpc/common"
	"github.com/ValentinKolb/dBucket/rpc/serializer"
	"github.com/ValentinKolb/dBucket/rpc/transport"
)

// NewCoordinatorClient creates a client for the coordinator with node id
// coordinator. The transport must be connected.
func NewCoordinatorClient(
	coordinator types.NodeID,
	caller types.Identity,
	timeout time.Duration,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) *CoordinatorClient {
	return &CoordinatorClient{
		rpcClientAdapter: rpcClientAdapter{
			caller:     caller,
			timeout:    timeout,
			transport:  transport,
			serializer: serializer,
		},
		id: coordinator,
	}
}

// CoordinatorClient talks to one coordinator. It implements env.CoordinatorClient.
type CoordinatorClient struct {
	rpcClientAdapter
	id types.NodeID
}

// As returns a copy of the client that calls under another identity. The copy
// shares the transport.
func (c *CoordinatorClient) As(caller types.Identity) *CoordinatorClient {
	cp := *c
	cp.caller = caller
	return &cp
}

// ID returns the node id of the coordinator
func (c *CoordinatorClient) ID() types.NodeID { return c.id }

func (c *CoordinatorClient) PushSummary(ctx context.Context, from types.NodeID, index types.EffectiveIndex) (bool, error) {
	resp, err := c.invoke(ctx, c.id, common.NewPushSummaryRequest(c.caller, from, index))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

// Lookup returns the shards holding entries under tag
func (c *CoordinatorClient) Lookup(ctx context.Context, tag string) ([]types.NodeID, error) {
	resp, err := c.invoke(ctx, c.id, common.NewLookupRequest(tag))
	if err != nil {
		return nil, err
	}
	return resp.NodeIDs, nil
}

// AllShards returns every shard the coordinator knows
func (c *CoordinatorClient) AllShards(ctx context.Context) ([]types.NodeID, error) {
	resp, err := c.invoke(ctx, c.id, common.NewAllShardsRequest())
	if err != nil {
		return nil, err
	}
	return resp.NodeIDs, nil
}

// UploadOrder returns the shards with room, best candidate first
func (c *CoordinatorClient) UploadOrder(ctx context.Context) ([]types.NodeID, error) {
	resp, err := c.invoke(ctx, c.id, common.NewUploadOrderRequest())
	if err != nil {
		return nil, err
	}
	return resp.NodeIDs, nil
}

// GlobalIndex returns the coordinator's tag map
func (c *CoordinatorClient) GlobalIndex(ctx context.Context) ([]common.IndexRow, error) {
	resp, err := c.invoke(ctx, c.id, common.NewGlobalIndexRequest())
	if err != nil {
		return nil, err
	}
	return resp.Rows, nil
}

// AddModerator grants moderator rights on every shard
func (c *CoordinatorClient) AddModerator(ctx context.Context, moderator types.Identity) (bool, error) {
	resp, err := c.invoke(ctx, c.id, common.NewAddModeratorRequest(c.caller, moderator))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

// SetStrategy switches the placement strategy behind UploadOrder
func (c *CoordinatorClient) SetStrategy(ctx context.Context, strategy string) (bool, error) {
	resp, err := c.invoke(ctx, c.id, common.NewSetStrategyRequest(c.caller, strategy))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

// Metrics returns the formatted metrics report of the coordinator
func (c *CoordinatorClient) Metrics(ctx context.Context) (string, error) {
	resp, err := c.invoke(ctx, c.id, common.NewMetricsRequest())
	if err != nil {
		return "", err
	}
	return resp.Body, nil
}
