package server

import (
	"fmt"

	"github.com/ValentinKolb/dBucket/lib/shard"
	"github.com/ValentinKolb/dBucket/rpc/common"
)

// NewShardServerAdapter creates the adapter translating RPC requests to calls on s
func NewShardServerAdapter(s *shard.Shard) IRPCServerAdapter {
	return &shardServerAdapterImpl{shard: s}
}

type shardServerAdapterImpl struct {
	shard *shard.Shard
}

func (adapter *shardServerAdapterImpl) Handle(req *common.Message) *common.Message {
	s := adapter.shard
	caller := req.Caller.Normalize()

	switch req.MsgType {
	case common.MsgTSubmit:
		ok, err := s.Submit(caller, req.Tag, req.Body)
		return common.NewOkResponse(req.MsgType, ok, err)
	case common.MsgTListByTag:
		entries, err := s.ListByTag(caller, req.Tag)
		return common.NewEntriesResponse(req.MsgType, entries, err)
	case common.MsgTListAll:
		entries, err := s.ListAll(caller)
		return common.NewEntriesResponse(req.MsgType, entries, err)
	case common.MsgTGetSummary:
		return common.NewGetSummaryResponse(s.Summary())
	case common.MsgTPushModerators:
		ok, err := s.PushModerators(caller, req.Version, req.Identities)
		return common.NewOkResponse(req.MsgType, ok, err)
	case common.MsgTSetCapacity:
		ok, err := s.SetCapacity(caller, req.Capacity)
		return common.NewOkResponse(req.MsgType, ok, err)
	case common.MsgTMetrics:
		return common.NewMetricsResponse(s.Metrics().String())
	default:
		return common.NewErrorResponse(
			fmt.Sprintf("RPC ShardAdapter - Unsupported message type: %s", req.MsgType),
		)
	}
}

// pendingAdapter answers for an instance that was created but not installed yet
type pendingAdapter struct {
	id uint64
}

func (adapter pendingAdapter) Handle(req *common.Message) *common.Message {
	return common.NewErrorResponse(fmt.Sprintf("instance %d is not installed", adapter.id))
}
