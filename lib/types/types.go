package types

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Identities
// --------------------------------------------------------------------------

// Identity is the caller identity attached to every request
type Identity string

// Anonymous is the identity of unauthenticated callers. Entries written by it are
// visible to every reader.
const Anonymous Identity = "anonymous"

// IsAnonymous reports whether the identity is empty or the anonymous identity
func (id Identity) IsAnonymous() bool {
	return id == "" || id == Anonymous
}

// Normalize maps the empty identity to Anonymous
func (id Identity) Normalize() Identity {
	if id == "" {
		return Anonymous
	}
	return id
}

// NodeID identifies a node (coordinator or shard) on a host
type NodeID uint64

func (n NodeID) String() string {
	return strconv.FormatUint(uint64(n), 10)
}

// NodeIdentity is the identity a node uses when it calls another node
func NodeIdentity(id NodeID) Identity {
	return Identity("node-" + id.String())
}

// SortNodeIDs sorts the ids ascending in place and returns them
func SortNodeIDs(ids []NodeID) []NodeID {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// IdentitySet is a set of identities used for the controller and moderator gates
type IdentitySet map[Identity]struct{}

// NewIdentitySet creates a set containing the given identities
func NewIdentitySet(ids ...Identity) IdentitySet {
	s := make(IdentitySet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Contains reports whether id is a member of the set
func (s IdentitySet) Contains(id Identity) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id and reports whether the set changed
func (s IdentitySet) Add(id Identity) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

// Sorted returns the members in ascending order
func (s IdentitySet) Sorted() []Identity {
	out := make([]Identity, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// --------------------------------------------------------------------------
// Entries
// --------------------------------------------------------------------------

// Entry is a single immutable record stored by a shard
type Entry struct {
	Tag         string    `json:"tag"`
	Body        string    `json:"body"`
	SubmittedAt time.Time `json:"submitted_at"`
	SubmittedBy Identity  `json:"submitted_by"`
}

// --------------------------------------------------------------------------
// Effective Index
// --------------------------------------------------------------------------

// EffectiveIndex is the summary a shard publishes about itself
type EffectiveIndex struct {
	Tags           []string `json:"tags"` // sorted, no duplicates
	CurrentEntries uint64   `json:"current_entries"`
	MaxEntries     uint64   `json:"max_entries"`
}

// FreeSlots returns the number of entries the shard can still accept
func (e EffectiveIndex) FreeSlots() uint64 {
	if e.CurrentEntries >= e.MaxEntries {
		return 0
	}
	return e.MaxEntries - e.CurrentEntries
}

// HasRoom reports whether the shard accepts at least one more entry
func (e EffectiveIndex) HasRoom() bool {
	return e.CurrentEntries < e.MaxEntries
}

func (e EffectiveIndex) String() string {
	return fmt.Sprintf("%d/%d entries, tags [%s]", e.CurrentEntries, e.MaxEntries, strings.Join(e.Tags, ","))
}
