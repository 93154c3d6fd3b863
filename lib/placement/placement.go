// Package placement ranks shards for new writes.
//
// Ranking is a pure function of the shard summaries known to the coordinator.
// Only shards with room for at least one more entry are ranked; ties are broken by
// ascending node id so the order is deterministic.
package placement

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ValentinKolb/dBucket/lib/types"
)

// Strategy selects the order in which writers should try shards
type Strategy uint8

const (
	// BalancedLoad sends writers to the emptiest shard first
	BalancedLoad Strategy = iota
	// FillFirst packs the fullest shard before using emptier ones
	FillFirst
)

func (s Strategy) String() string {
	switch s {
	case BalancedLoad:
		return "balanced"
	case FillFirst:
		return "fill-first"
	default:
		return "unknown"
	}
}

// ParseStrategy parses the names produced by Strategy.String
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "balanced", "balanced-load", "balancedload":
		return BalancedLoad, nil
	case "fill-first", "fillfirst":
		return FillFirst, nil
	default:
		return 0, fmt.Errorf("unknown placement strategy: %q", name)
	}
}

// RankShards returns the ids of all shards with free room, ordered by strategy
func RankShards(strategy Strategy, summaries map[types.NodeID]types.EffectiveIndex) []types.NodeID {
	ids := make([]types.NodeID, 0, len(summaries))
	for id, idx := range summaries {
		if idx.HasRoom() {
			ids = append(ids, id)
		}
	}

	sort.Slice(ids, func(i, j int) bool {
		a, b := summaries[ids[i]].CurrentEntries, summaries[ids[j]].CurrentEntries
		if a == b {
			return ids[i] < ids[j]
		}
		if strategy == FillFirst {
			return a > b
		}
		return a < b
	})
	return ids
}
