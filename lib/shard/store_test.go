package shard

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/ValentinKolb/dBucket/lib/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(tag, body string, by types.Identity) types.Entry {
	return types.Entry{Tag: tag, Body: body, SubmittedBy: by}
}

func TestStoreCapacityScenario(t *testing.T) {
	s := NewStore(3)
	for i := 0; i < 3; i++ {
		require.True(t, s.Insert(entry("cats", fmt.Sprint(i), types.Anonymous)))
	}
	assert.False(t, s.Insert(entry("cats", "overflow", types.Anonymous)))
	assert.Equal(t, uint64(3), s.Len())
	assert.Len(t, s.ListAll(), 3)
}

func TestStoreEntryCountMatchesSuccessfulInserts(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	tags := []string{"a", "b", "c", "d"}

	for round := 0; round < 50; round++ {
		capacity := uint64(rng.Intn(15))
		s := NewStore(capacity)
		var successes uint64

		for i := 0; i < 40; i++ {
			full := s.Len() == capacity
			ok := s.Insert(entry(tags[rng.Intn(len(tags))], "x", types.Anonymous))
			if full {
				require.False(t, ok, "insert succeeded on a full store (round %d)", round)
			}
			if ok {
				successes++
			}
			require.Equal(t, successes, s.Len())
			require.Equal(t, successes, uint64(len(s.ListAll())))
			require.Equal(t, successes, s.Summarize().CurrentEntries)
		}
		require.LessOrEqual(t, s.Len(), capacity)
	}
}

func TestStoreListScopesToCaller(t *testing.T) {
	s := NewStore(10)
	require.True(t, s.Insert(entry("news", "1", "alice")))
	require.True(t, s.Insert(entry("news", "2", "bob")))
	require.True(t, s.Insert(entry("news", "3", types.Anonymous)))
	require.True(t, s.Insert(entry("news", "4", "alice")))
	require.True(t, s.Insert(entry("other", "5", "alice")))

	bodies := func(es []types.Entry) []string {
		out := make([]string, 0, len(es))
		for _, e := range es {
			out = append(out, e.Body)
		}
		return out
	}

	assert.Equal(t, []string{"1", "3", "4"}, bodies(s.List("news", "alice")))
	assert.Equal(t, []string{"2", "3"}, bodies(s.List("news", "bob")))
	assert.Equal(t, []string{"3"}, bodies(s.List("news", types.Anonymous)))
	assert.Equal(t, []string{"3"}, bodies(s.List("news", "")))
	assert.Empty(t, s.List("missing", "alice"))
}

func TestStoreSummarize(t *testing.T) {
	s := NewStore(5)
	s.Insert(entry("zebra", "", types.Anonymous))
	s.Insert(entry("apple", "", types.Anonymous))
	s.Insert(entry("zebra", "", types.Anonymous))

	idx := s.Summarize()
	assert.Equal(t, []string{"apple", "zebra"}, idx.Tags)
	assert.Equal(t, uint64(3), idx.CurrentEntries)
	assert.Equal(t, uint64(5), idx.MaxEntries)
	assert.Equal(t, uint64(2), idx.FreeSlots())
}

func TestStoreLoweredCapacityRejects(t *testing.T) {
	s := NewStore(5)
	for i := 0; i < 4; i++ {
		require.True(t, s.Insert(entry("t", "", types.Anonymous)))
	}
	s.SetCapacity(2)
	assert.False(t, s.Insert(entry("t", "", types.Anonymous)))
	assert.Equal(t, uint64(4), s.Len())
	assert.Equal(t, uint64(0), s.Summarize().FreeSlots())
}

func TestStoreRestoreRecomputesCount(t *testing.T) {
	s := NewStore(5)
	s.Insert(entry("a", "", types.Anonymous))
	s.Insert(entry("b", "", types.Anonymous))

	restored := restoreStore(s.state())
	assert.Equal(t, s.Len(), restored.Len())
	assert.Equal(t, s.Summarize(), restored.Summarize())
}
