package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dBucket/lib/env"
	"github.com/ValentinKolb/dBucket/lib/types"
	"github.com/ValentinKolb/dBucket/rpc/common"
	"github.com/ValentinKolb/dBucket/rpc/serializer"
	"github.com/ValentinKolb/dBucket/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("client")

// ErrRemote wraps every error reported by the addressed node
var ErrRemote = errors.New("remote error")

// rpcClientAdapter is a struct that stores all data needed for an implementation of an RPC client
// Used by the ShardClient and CoordinatorClient with composition pattern
type rpcClientAdapter struct {
	caller     types.Identity
	timeout    time.Duration
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// invoke sends req to the node and waits at most the configured timeout for the answer
func (a *rpcClientAdapter) invoke(ctx context.Context, nodeId types.NodeID, req *common.Message) (*common.Message, error) {
	ctx, cancel := env.CallContext(ctx, a.timeout)
	defer cancel()
	return invokeRPCRequest(ctx, uint64(nodeId), req, a.transport, a.serializer)
}

// invokeRPCRequest is a helper function used for all RPC Clients to send requests
// It takes a node ID, a request message, a transport layer and a serializer as parameters
// It returns a response message and an error if any occurs
// This method also checks if the response is an error response and if the type of the response is the expected type
func invokeRPCRequest(ctx context.Context, nodeId uint64, req *common.Message, transport transport.IRPCClientTransport, serializer serializer.IRPCSerializer) (*common.Message, error) {
	reqBytes, err := serializer.Serialize(*req)
	if err != nil {
		return nil, err
	}

	respBytes, err := transport.Send(ctx, nodeId, reqBytes)
	if err != nil {
		return nil, err
	}

	resp := &common.Message{}
	if err := serializer.Deserialize(respBytes, resp); err != nil {
		return nil, fmt.Errorf("RPC client - failed to decode %s response: %w", req.MsgType, err)
	}

	if resp.MsgType == common.MsgTError || resp.Err != "" {
		return nil, fmt.Errorf("%w: %s", ErrRemote, resp.Err)
	}

	if resp.MsgType != req.MsgType {
		return nil, fmt.Errorf("RPC client - unexpected message type: %s, expected %s", resp.MsgType, req.MsgType)
	}

	return resp, nil
}
