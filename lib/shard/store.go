package shard

import (
	"sort"

	"github.com/ValentinKolb/dBucket/lib/types"
)

// DefaultMaxEntries is the capacity of a shard unless configured otherwise
const DefaultMaxEntries uint64 = 20

// Store is the bounded, tag-partitioned entry storage of one shard.
//
// Store is not safe for concurrent use; the owning Shard serializes access.
type Store struct {
	entries    map[string][]types.Entry
	entryCount uint64
	maxEntries uint64
}

// NewStore creates an empty store with the given capacity
func NewStore(maxEntries uint64) *Store {
	return &Store{
		entries:    make(map[string][]types.Entry),
		maxEntries: maxEntries,
	}
}

// Insert appends the entry under its tag if the store has room.
// The append and the counter update happen together; a full store is not mutated.
func (s *Store) Insert(e types.Entry) bool {
	if s.entryCount >= s.maxEntries {
		return false
	}
	s.entries[e.Tag] = append(s.entries[e.Tag], e)
	s.entryCount++
	return true
}

// List returns the entries under tag written by caller or by anonymous callers,
// in insertion order
func (s *Store) List(tag string, caller types.Identity) []types.Entry {
	caller = caller.Normalize()
	out := make([]types.Entry, 0)
	for _, e := range s.entries[tag] {
		if e.SubmittedBy == caller || e.SubmittedBy.IsAnonymous() {
			out = append(out, e)
		}
	}
	return out
}

// ListAll returns every entry, grouped by tag in tag order
func (s *Store) ListAll() []types.Entry {
	out := make([]types.Entry, 0, s.entryCount)
	for _, tag := range s.tags() {
		out = append(out, s.entries[tag]...)
	}
	return out
}

// Summarize derives the effective index of the store
func (s *Store) Summarize() types.EffectiveIndex {
	return types.EffectiveIndex{
		Tags:           s.tags(),
		CurrentEntries: s.entryCount,
		MaxEntries:     s.maxEntries,
	}
}

// Len returns the number of stored entries
func (s *Store) Len() uint64 { return s.entryCount }

// Cap returns the capacity of the store
func (s *Store) Cap() uint64 { return s.maxEntries }

// SetCapacity changes the capacity. Lowering it below the current count keeps all
// entries but rejects further inserts.
func (s *Store) SetCapacity(n uint64) { s.maxEntries = n }

func (s *Store) tags() []string {
	tags := make([]string, 0, len(s.entries))
	for tag := range s.entries {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// --------------------------------------------------------------------------
// Snapshot support
// --------------------------------------------------------------------------

// StoreState is the serializable form of a Store
type StoreState struct {
	Entries    map[string][]types.Entry
	MaxEntries uint64
}

func (s *Store) state() StoreState {
	entries := make(map[string][]types.Entry, len(s.entries))
	for tag, list := range s.entries {
		entries[tag] = append([]types.Entry(nil), list...)
	}
	return StoreState{Entries: entries, MaxEntries: s.maxEntries}
}

// restoreStore rebuilds a store; the entry counter is recomputed from the entries
func restoreStore(st StoreState) *Store {
	s := NewStore(st.MaxEntries)
	for tag, list := range st.Entries {
		s.entries[tag] = append([]types.Entry(nil), list...)
		s.entryCount += uint64(len(list))
	}
	return s
}
