package coordinator

import (
	"testing"

	"github.com/ValentinKolb/dBucket/lib/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModeratorsDirtyFlag(t *testing.T) {
	m := NewModerators()
	_, ok := m.Begin([]types.NodeID{1, 2})
	assert.False(t, ok, "a clean set broadcasts nothing")

	require.True(t, m.Add("carol"))
	assert.False(t, m.Add("carol"), "re-adding is not a change")
	assert.True(t, m.Dirty())

	b, ok := m.Begin([]types.NodeID{1, 2})
	require.True(t, ok)
	assert.True(t, b.Full)
	assert.Equal(t, []types.NodeID{1, 2}, b.Targets)
	assert.Equal(t, []types.Identity{"carol"}, b.Moderators)
	assert.False(t, m.Dirty(), "flag is cleared once the broadcast starts")
}

func TestModeratorsRetryFailedShards(t *testing.T) {
	m := NewModerators()
	m.Add("carol")
	b, _ := m.Begin([]types.NodeID{1, 2, 3})
	m.Finish(b, []types.NodeID{2})
	assert.Equal(t, []types.NodeID{2}, m.Pending())

	retry, ok := m.Begin([]types.NodeID{1, 2, 3})
	require.True(t, ok)
	assert.False(t, retry.Full)
	assert.Equal(t, []types.NodeID{2}, retry.Targets)
	m.Finish(retry, nil)
	assert.Empty(t, m.Pending())

	_, ok = m.Begin([]types.NodeID{1, 2, 3})
	assert.False(t, ok)
}

func TestModeratorsFailuresOfOutdatedBroadcastAreDropped(t *testing.T) {
	m := NewModerators()
	m.Add("carol")
	old, _ := m.Begin([]types.NodeID{1, 2})
	m.Add("dave")
	m.Finish(old, []types.NodeID{1})
	assert.Empty(t, m.Pending(), "the pending full broadcast covers the failed shard")

	b, ok := m.Begin([]types.NodeID{1, 2})
	require.True(t, ok)
	assert.True(t, b.Full)
	assert.Equal(t, []types.Identity{"carol", "dave"}, b.Moderators)
}

func TestModeratorsTrackNewShard(t *testing.T) {
	m := NewModerators()
	m.Add("carol")
	_, version := m.Snapshot()

	m.Track(5, version)
	assert.Empty(t, m.Pending(), "installed with the current version")

	m.Add("dave")
	m.Begin(nil)
	m.Track(6, version)
	assert.Equal(t, []types.NodeID{6}, m.Pending())
}
