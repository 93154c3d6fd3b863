package server

import (
	"fmt"

	"github.com/ValentinKolb/dBucket/lib/coordinator"
	"github.com/ValentinKolb/dBucket/lib/placement"
	"github.com/ValentinKolb/dBucket/rpc/common"
)

// NewCoordinatorServerAdapter creates the adapter translating RPC requests to calls on c
func NewCoordinatorServerAdapter(c *coordinator.Coordinator) IRPCServerAdapter {
	return &coordinatorServerAdapterImpl{coordinator: c}
}

type coordinatorServerAdapterImpl struct {
	coordinator *coordinator.Coordinator
}

func (adapter *coordinatorServerAdapterImpl) Handle(req *common.Message) *common.Message {
	c := adapter.coordinator
	caller := req.Caller.Normalize()

	switch req.MsgType {
	case common.MsgTPushSummary:
		if req.Summary == nil {
			return common.NewErrorResponse("RPC CoordinatorAdapter - summary missing")
		}
		ok, err := c.PushSummary(caller, req.NodeID, *req.Summary)
		return common.NewOkResponse(req.MsgType, ok, err)
	case common.MsgTLookup:
		ids, err := c.Lookup(req.Tag)
		return common.NewNodeIDsResponse(req.MsgType, ids, err)
	case common.MsgTAllShards:
		return common.NewNodeIDsResponse(req.MsgType, c.AllShards(), nil)
	case common.MsgTUploadOrder:
		return common.NewNodeIDsResponse(req.MsgType, c.UploadOrder(), nil)
	case common.MsgTGlobalIndex:
		rows := c.GlobalIndex()
		out := make([]common.IndexRow, len(rows))
		for i, row := range rows {
			out[i] = common.IndexRow{Tag: row.Tag, Shards: row.Shards}
		}
		return common.NewGlobalIndexResponse(out)
	case common.MsgTAddModerator:
		if len(req.Identities) != 1 {
			return common.NewErrorResponse("RPC CoordinatorAdapter - expected exactly one moderator")
		}
		ok, err := c.AddModerator(caller, req.Identities[0])
		return common.NewOkResponse(req.MsgType, ok, err)
	case common.MsgTSetStrategy:
		strategy, err := placement.ParseStrategy(req.Body)
		if err != nil {
			return common.NewOkResponse(req.MsgType, false, err)
		}
		ok, err := c.SetStrategy(caller, strategy)
		return common.NewOkResponse(req.MsgType, ok, err)
	case common.MsgTMetrics:
		return common.NewMetricsResponse(c.Metrics().String())
	default:
		return common.NewErrorResponse(
			fmt.Sprintf("RPC CoordinatorAdapter - Unsupported message type: %s", req.MsgType),
		)
	}
}
