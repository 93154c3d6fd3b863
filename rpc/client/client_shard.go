package client

import (
	"context"
	"time"

	"github.com/ValentinKolb/dBucket/lib/types"
	"github.com/ValentinKolb/dBucket/rpc/common"
	"github.com/ValentinKolb/dBucket/rpc/serializer"
	"github.com/ValentinKolb/dBucket/rpc/transport"
)

// NewShardClient creates a client for the shard operations. The transport must
// be connected. Every request carries caller as identity.
func NewShardClient(
	caller types.Identity,
	timeout time.Duration,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) *ShardClient {
	return &ShardClient{rpcClientAdapter{
		caller:     caller,
		timeout:    timeout,
		transport:  transport,
		serializer: serializer,
	}}
}

// ShardClient addresses any shard served behind its transport. It implements
// env.ShardClient.
type ShardClient struct {
	rpcClientAdapter
}

// Submit stores an entry; false means the shard is full
func (c *ShardClient) Submit(ctx context.Context, shard types.NodeID, tag, body string) (bool, error) {
	resp, err := c.invoke(ctx, shard, common.NewSubmitRequest(c.caller, tag, body))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

// ListByTag returns the caller's and the anonymous entries under tag
func (c *ShardClient) ListByTag(ctx context.Context, shard types.NodeID, tag string) ([]types.Entry, error) {
	resp, err := c.invoke(ctx, shard, common.NewListByTagRequest(c.caller, tag))
	if err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// ListAll returns every entry of the shard; the caller must be a moderator
func (c *ShardClient) ListAll(ctx context.Context, shard types.NodeID) ([]types.Entry, error) {
	resp, err := c.invoke(ctx, shard, common.NewListAllRequest(c.caller))
	if err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// Summary returns the shard's current effective index
func (c *ShardClient) Summary(ctx context.Context, shard types.NodeID) (types.EffectiveIndex, error) {
	resp, err := c.invoke(ctx, shard, common.NewGetSummaryRequest())
	if err != nil {
		return types.EffectiveIndex{}, err
	}
	if resp.Summary == nil {
		return types.EffectiveIndex{}, nil
	}
	return *resp.Summary, nil
}

func (c *ShardClient) PushModerators(ctx context.Context, shard types.NodeID, version uint64, moderators []types.Identity) (bool, error) {
	resp, err := c.invoke(ctx, shard, common.NewPushModeratorsRequest(c.caller, version, moderators))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

// SetCapacity changes the maximum number of entries of the shard
func (c *ShardClient) SetCapacity(ctx context.Context, shard types.NodeID, capacity uint64) (bool, error) {
	resp, err := c.invoke(ctx, shard, common.NewSetCapacityRequest(c.caller, capacity))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

// Metrics returns the formatted metrics report of any node, shard or coordinator
func (c *ShardClient) Metrics(ctx context.Context, node types.NodeID) (string, error) {
	resp, err := c.invoke(ctx, node, common.NewMetricsRequest())
	if err != nil {
		return "", err
	}
	return resp.Body, nil
}
