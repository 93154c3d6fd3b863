package coordinator

import (
	"testing"
	"time"

	"github.com/ValentinKolb/dBucket/lib/env/envtest"
	"github.com/ValentinKolb/dBucket/lib/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func summary(current, max uint64, tags ...string) types.EffectiveIndex {
	return types.EffectiveIndex{Tags: tags, CurrentEntries: current, MaxEntries: max}
}

func TestGlobalIndexFreeSlotsFollowIngest(t *testing.T) {
	g := NewGlobalIndex(time.Second)
	assert.Equal(t, uint64(0), g.FreeSlots())

	g.Ingest(1, summary(5, 20))
	assert.Equal(t, uint64(15), g.FreeSlots())

	g.Ingest(2, summary(20, 20))
	assert.Equal(t, uint64(15), g.FreeSlots())

	g.Ingest(1, summary(18, 20))
	assert.Equal(t, uint64(2), g.FreeSlots(), "an upsert replaces the old summary")

	g.Ingest(3, summary(30, 20))
	assert.Equal(t, uint64(2), g.FreeSlots(), "overfull shards contribute no free slots")
}

func TestGlobalIndexRebuildIsDebounced(t *testing.T) {
	clock := envtest.NewClock()
	g := NewGlobalIndex(5 * time.Second)
	g.Ingest(2, summary(1, 20, "cats"))
	g.Ingest(1, summary(1, 20, "cats", "dogs"))

	require.True(t, g.RebuildTagMap(clock.Now()))
	assert.Equal(t, []types.NodeID{1, 2}, g.Lookup("cats"))
	assert.Equal(t, []types.NodeID{1}, g.Lookup("dogs"))

	g.Ingest(3, summary(1, 20, "birds"))
	clock.Advance(5 * time.Second)
	assert.False(t, g.RebuildTagMap(clock.Now()))
	assert.Empty(t, g.Lookup("birds"), "tag map stays stale until the interval passed")

	clock.Advance(time.Millisecond)
	require.True(t, g.RebuildTagMap(clock.Now()))
	assert.Equal(t, []types.NodeID{3}, g.Lookup("birds"))

	assert.Equal(t, []Row{
		{Tag: "birds", Shards: []types.NodeID{3}},
		{Tag: "cats", Shards: []types.NodeID{1, 2}},
		{Tag: "dogs", Shards: []types.NodeID{1}},
	}, g.Rows())
}

func TestGlobalIndexRebuildDropsVanishedTags(t *testing.T) {
	clock := envtest.NewClock()
	g := NewGlobalIndex(time.Second)
	g.Ingest(1, summary(1, 20, "old"))
	g.RebuildTagMap(clock.Now())

	g.Ingest(1, summary(1, 20, "new"))
	clock.Advance(2 * time.Second)
	g.RebuildTagMap(clock.Now())
	assert.Empty(t, g.Lookup("old"))
	assert.Equal(t, []types.NodeID{1}, g.Lookup("new"))
}
