package coordinator

import (
	"sort"
	"time"

	"github.com/ValentinKolb/dBucket/lib/types"
)

// DefaultRebuildInterval is the minimum time between two tag map rebuilds
const DefaultRebuildInterval = 5 * time.Second

// GlobalIndex aggregates the effective indexes of all known shards
type GlobalIndex struct {
	rebuildInterval time.Duration
	summaries       map[types.NodeID]types.EffectiveIndex
	freeSlots       uint64
	tagToShards     map[string][]types.NodeID
	lastRebuilt     time.Time
}

// NewGlobalIndex creates an empty index
func NewGlobalIndex(rebuildInterval time.Duration) *GlobalIndex {
	return &GlobalIndex{
		rebuildInterval: rebuildInterval,
		summaries:       make(map[types.NodeID]types.EffectiveIndex),
		tagToShards:     make(map[string][]types.NodeID),
	}
}

// Ingest upserts the summary of a shard and recomputes the free slots
func (g *GlobalIndex) Ingest(id types.NodeID, idx types.EffectiveIndex) {
	g.summaries[id] = idx
	g.recomputeFreeSlots()
}

// Known reports whether a summary for the shard exists
func (g *GlobalIndex) Known(id types.NodeID) bool {
	_, ok := g.summaries[id]
	return ok
}

// FreeSlots returns the sum of free entries over all known shards
func (g *GlobalIndex) FreeSlots() uint64 { return g.freeSlots }

// RebuildTagMap inverts all summaries into the tag map if the rebuild interval
// has passed. It reports whether a rebuild happened.
func (g *GlobalIndex) RebuildTagMap(now time.Time) bool {
	if !g.lastRebuilt.IsZero() && now.Sub(g.lastRebuilt) <= g.rebuildInterval {
		return false
	}

	tagToShards := make(map[string][]types.NodeID)
	for id, idx := range g.summaries {
		for _, tag := range idx.Tags {
			tagToShards[tag] = append(tagToShards[tag], id)
		}
	}
	for _, ids := range tagToShards {
		types.SortNodeIDs(ids)
	}

	g.tagToShards = tagToShards
	g.lastRebuilt = now
	return true
}

// Lookup returns the shards advertising tag as of the last rebuild
func (g *GlobalIndex) Lookup(tag string) []types.NodeID {
	return append([]types.NodeID{}, g.tagToShards[tag]...)
}

// Shards returns the ids of all known shards in ascending order
func (g *GlobalIndex) Shards() []types.NodeID {
	ids := make([]types.NodeID, 0, len(g.summaries))
	for id := range g.summaries {
		ids = append(ids, id)
	}
	return types.SortNodeIDs(ids)
}

// Summaries returns a copy of the known summaries
func (g *GlobalIndex) Summaries() map[types.NodeID]types.EffectiveIndex {
	out := make(map[types.NodeID]types.EffectiveIndex, len(g.summaries))
	for id, idx := range g.summaries {
		out[id] = idx
	}
	return out
}

// Row is one tag of the tag map
type Row struct {
	Tag    string         `json:"tag"`
	Shards []types.NodeID `json:"shards"`
}

// Rows returns the tag map ordered by tag
func (g *GlobalIndex) Rows() []Row {
	rows := make([]Row, 0, len(g.tagToShards))
	for tag, ids := range g.tagToShards {
		rows = append(rows, Row{Tag: tag, Shards: append([]types.NodeID(nil), ids...)})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Tag < rows[j].Tag })
	return rows
}

// LastRebuilt returns the time of the last tag map rebuild
func (g *GlobalIndex) LastRebuilt() time.Time { return g.lastRebuilt }

func (g *GlobalIndex) recomputeFreeSlots() {
	var free uint64
	for _, idx := range g.summaries {
		free += idx.FreeSlots()
	}
	g.freeSlots = free
}
