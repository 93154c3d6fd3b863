package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dBucket/lib/types"
	"github.com/ValentinKolb/dBucket/rpc/common"
	"github.com/ValentinKolb/dBucket/rpc/serializer"
	"github.com/ValentinKolb/dBucket/rpc/transport/loopback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHost answers with per-node handlers and records which node saw which request
type fakeHost struct {
	mu       sync.Mutex
	nodes    map[uint64]func(*common.Message) *common.Message
	received []uint64
}

func newTestClient(t *testing.T, host *fakeHost) *RPCClient {
	t.Helper()
	s := serializer.NewBinarySerializer()
	handle := func(nodeId uint64, req []byte) []byte {
		var msg common.Message
		if !assert.NoError(t, s.Deserialize(req, &msg)) {
			return nil
		}

		host.mu.Lock()
		host.received = append(host.received, nodeId)
		h, ok := host.nodes[nodeId]
		host.mu.Unlock()

		resp := common.NewErrorResponse("node not found")
		if ok {
			resp = h(&msg)
		}
		out, err := s.Serialize(*resp)
		assert.NoError(t, err)
		return out
	}

	c, err := NewRPCClient(1, common.ClientConfig{Caller: "alice", Timeout: time.Second}, loopback.NewClientTransport(handle), s)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func coordinatorAnswering(order, lookup []types.NodeID) func(*common.Message) *common.Message {
	return func(m *common.Message) *common.Message {
		switch m.MsgType {
		case common.MsgTUploadOrder:
			return common.NewNodeIDsResponse(m.MsgType, order, nil)
		case common.MsgTLookup:
			return common.NewNodeIDsResponse(m.MsgType, lookup, nil)
		default:
			return common.NewErrorResponse("unexpected request")
		}
	}
}

func TestPostSkipsFullAndFailingShards(t *testing.T) {
	host := &fakeHost{nodes: map[uint64]func(*common.Message) *common.Message{
		1: coordinatorAnswering([]types.NodeID{2, 3, 4}, nil),
		2: func(m *common.Message) *common.Message { return common.NewErrorResponse("shard is broken") },
		3: func(m *common.Message) *common.Message { return common.NewOkResponse(m.MsgType, false, nil) },
		4: func(m *common.Message) *common.Message {
			if m.Caller != "alice" || m.Tag != "cats" {
				return common.NewErrorResponse("wrong request")
			}
			return common.NewOkResponse(m.MsgType, true, nil)
		},
	}}
	c := newTestClient(t, host)

	id, err := c.Post(context.Background(), "cats", "a cat")
	require.NoError(t, err)
	assert.Equal(t, types.NodeID(4), id)
	assert.Equal(t, []uint64{1, 2, 3, 4}, host.received)
}

func TestPostWithoutCapacity(t *testing.T) {
	host := &fakeHost{nodes: map[uint64]func(*common.Message) *common.Message{
		1: coordinatorAnswering([]types.NodeID{2, 3}, nil),
		2: func(m *common.Message) *common.Message { return common.NewOkResponse(m.MsgType, false, nil) },
		3: func(m *common.Message) *common.Message { return common.NewErrorResponse("shard is broken") },
	}}
	c := newTestClient(t, host)

	_, err := c.Post(context.Background(), "cats", "a cat")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoCapacity))
	assert.True(t, errors.Is(err, ErrRemote))
	assert.ErrorContains(t, err, "shard 3")

	// an empty upload order means no capacity at all
	host.mu.Lock()
	host.nodes[1] = coordinatorAnswering(nil, nil)
	host.mu.Unlock()
	_, err = c.Post(context.Background(), "cats", "a cat")
	assert.ErrorIs(t, err, ErrNoCapacity)
}

func TestFetchMergesShardsOldestFirst(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	entriesOf := func(offsets ...int) func(*common.Message) *common.Message {
		return func(m *common.Message) *common.Message {
			var entries []types.Entry
			for _, o := range offsets {
				entries = append(entries, types.Entry{Tag: m.Tag, Body: "e", SubmittedAt: base.Add(time.Duration(o) * time.Second)})
			}
			return common.NewEntriesResponse(m.MsgType, entries, nil)
		}
	}
	host := &fakeHost{nodes: map[uint64]func(*common.Message) *common.Message{
		1: coordinatorAnswering(nil, []types.NodeID{2, 3}),
		2: entriesOf(3, 1),
		3: entriesOf(2, 4),
	}}
	c := newTestClient(t, host)

	entries, err := c.Fetch(context.Background(), "cats")
	require.NoError(t, err)
	require.Len(t, entries, 4)
	for i, e := range entries {
		assert.True(t, base.Add(time.Duration(i+1)*time.Second).Equal(e.SubmittedAt), "entry %d is out of order", i)
	}
}

func TestFetchFailsIfAnyShardFails(t *testing.T) {
	host := &fakeHost{nodes: map[uint64]func(*common.Message) *common.Message{
		1: coordinatorAnswering(nil, []types.NodeID{2, 9}),
		2: func(m *common.Message) *common.Message { return common.NewEntriesResponse(m.MsgType, nil, nil) },
	}}
	c := newTestClient(t, host)

	_, err := c.Fetch(context.Background(), "cats")
	assert.ErrorIs(t, err, ErrRemote)
	assert.ErrorContains(t, err, "shard 9")
}

func TestUnexpectedResponseType(t *testing.T) {
	host := &fakeHost{nodes: map[uint64]func(*common.Message) *common.Message{
		1: func(m *common.Message) *common.Message { return common.NewMetricsResponse("report") },
	}}
	c := newTestClient(t, host)

	_, err := c.Coordinator.AllShards(context.Background())
	assert.ErrorContains(t, err, "unexpected message type")
}
