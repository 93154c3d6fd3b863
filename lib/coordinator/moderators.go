package coordinator

import (
	"github.com/ValentinKolb/dBucket/lib/types"
)

// Broadcast is one round of moderator pushes
type Broadcast struct {
	Version    uint64
	Moderators []types.Identity
	Targets    []types.NodeID
	Full       bool // every known shard, not only pending retries
}

// Moderators tracks the privileged-caller set and which shards still need it.
//
// A change sets the dirty flag and bumps the version. The next tick turns the flag
// into a full broadcast and clears it, whatever the individual pushes return.
// Shards whose push failed stay pending and are retried on later ticks.
type Moderators struct {
	set     types.IdentitySet
	version uint64
	dirty   bool
	pending map[types.NodeID]struct{}
}

// NewModerators creates an empty, clean moderator set
func NewModerators() *Moderators {
	return &Moderators{
		set:     types.NewIdentitySet(),
		pending: make(map[types.NodeID]struct{}),
	}
}

// Add inserts a moderator; a change marks the set dirty
func (m *Moderators) Add(id types.Identity) bool {
	if !m.set.Add(id) {
		return false
	}
	m.version++
	m.dirty = true
	return true
}

// Begin returns the next broadcast, if any. shards is the list of all known
// shards; pending shards that are no longer known are dropped.
func (m *Moderators) Begin(shards []types.NodeID) (Broadcast, bool) {
	b := Broadcast{Version: m.version, Moderators: m.set.Sorted()}

	if m.dirty {
		m.dirty = false
		m.pending = make(map[types.NodeID]struct{})
		b.Targets = append([]types.NodeID(nil), shards...)
		b.Full = true
		return b, true
	}

	for _, id := range shards {
		if _, ok := m.pending[id]; ok {
			b.Targets = append(b.Targets, id)
		}
	}
	m.pending = make(map[types.NodeID]struct{})
	return b, len(b.Targets) > 0
}

// Finish records the shards whose push failed so they are retried
func (m *Moderators) Finish(b Broadcast, failed []types.NodeID) {
	if b.Version != m.version {
		// a newer change is waiting as a full broadcast
		return
	}
	for _, id := range failed {
		m.pending[id] = struct{}{}
	}
}

// Track marks a new shard pending if it was installed with an older version
func (m *Moderators) Track(id types.NodeID, installedVersion uint64) {
	if installedVersion < m.version {
		m.pending[id] = struct{}{}
	}
}

// Snapshot returns the current set and version, used for new shards
func (m *Moderators) Snapshot() ([]types.Identity, uint64) {
	return m.set.Sorted(), m.version
}

// Dirty reports whether a change has not been broadcast yet
func (m *Moderators) Dirty() bool { return m.dirty }

// Pending returns the shards waiting for a retry
func (m *Moderators) Pending() []types.NodeID {
	ids := make([]types.NodeID, 0, len(m.pending))
	for id := range m.pending {
		ids = append(ids, id)
	}
	return types.SortNodeIDs(ids)
}

// Contains reports whether id is a moderator
func (m *Moderators) Contains(id types.Identity) bool { return m.set.Contains(id) }

// Len returns the number of moderators
func (m *Moderators) Len() int { return len(m.set) }
