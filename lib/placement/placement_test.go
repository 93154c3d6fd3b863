package placement

import (
	"math/rand"
	"testing"

	"github.com/ValentinKolb/dBucket/lib/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankShardsScenario(t *testing.T) {
	summaries := map[types.NodeID]types.EffectiveIndex{
		5: {CurrentEntries: 5, MaxEntries: 20},
		3: {CurrentEntries: 3, MaxEntries: 20},
	}
	assert.Equal(t, []types.NodeID{3, 5}, RankShards(BalancedLoad, summaries))
	assert.Equal(t, []types.NodeID{5, 3}, RankShards(FillFirst, summaries))
}

func TestRankShardsSkipsFullShards(t *testing.T) {
	summaries := map[types.NodeID]types.EffectiveIndex{
		1: {CurrentEntries: 20, MaxEntries: 20},
		2: {CurrentEntries: 0, MaxEntries: 20},
		3: {CurrentEntries: 25, MaxEntries: 20},
	}
	assert.Equal(t, []types.NodeID{2}, RankShards(BalancedLoad, summaries))
	assert.Equal(t, []types.NodeID{2}, RankShards(FillFirst, summaries))
	assert.Empty(t, RankShards(FillFirst, nil))
}

func TestRankShardsTieBreakByID(t *testing.T) {
	summaries := map[types.NodeID]types.EffectiveIndex{
		9: {CurrentEntries: 4, MaxEntries: 20},
		2: {CurrentEntries: 4, MaxEntries: 20},
		6: {CurrentEntries: 4, MaxEntries: 20},
	}
	assert.Equal(t, []types.NodeID{2, 6, 9}, RankShards(BalancedLoad, summaries))
	assert.Equal(t, []types.NodeID{2, 6, 9}, RankShards(FillFirst, summaries))
}

func TestRankShardsMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 100; round++ {
		summaries := make(map[types.NodeID]types.EffectiveIndex)
		n := rng.Intn(30)
		for i := 0; i < n; i++ {
			max := uint64(rng.Intn(30) + 1)
			summaries[types.NodeID(i+1)] = types.EffectiveIndex{CurrentEntries: uint64(rng.Intn(int(max) + 1)), MaxEntries: max}
		}

		balanced := RankShards(BalancedLoad, summaries)
		for i := 1; i < len(balanced); i++ {
			require.LessOrEqual(t, summaries[balanced[i-1]].CurrentEntries, summaries[balanced[i]].CurrentEntries)
		}
		fill := RankShards(FillFirst, summaries)
		for i := 1; i < len(fill); i++ {
			require.GreaterOrEqual(t, summaries[fill[i-1]].CurrentEntries, summaries[fill[i]].CurrentEntries)
		}
		require.Len(t, fill, len(balanced))
		for _, id := range balanced {
			require.True(t, summaries[id].HasRoom())
		}
	}
}

func TestParseStrategy(t *testing.T) {
	for name, want := range map[string]Strategy{"balanced": BalancedLoad, "Fill-First": FillFirst, "fillfirst": FillFirst} {
		got, err := ParseStrategy(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		again, err := ParseStrategy(got.String())
		require.NoError(t, err)
		assert.Equal(t, got, again)
	}
	_, err := ParseStrategy("random")
	assert.Error(t, err)
}
