package serializer

import (
	"reflect"
	"testing"
	"time"

	"github.com/ValentinKolb/dBucket/lib/types"
	"github.com/ValentinKolb/dBucket/rpc/common"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
	"Binary": NewBinarySerializer,
}

var submittedAt = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

// testMessages creates a set of test messages with different fields filled
func testMessages() []common.Message {
	return []common.Message{
		// Basic message with just a type
		{MsgType: common.MsgTSuccess},

		// Submit request
		*common.NewSubmitRequest("alice", "cats", "a picture of a cat"),

		// ListByTag response
		*common.NewEntriesResponse(common.MsgTListByTag, []types.Entry{
			{Tag: "cats", Body: "one", SubmittedAt: submittedAt, SubmittedBy: "alice"},
			{Tag: "cats", Body: "two", SubmittedAt: submittedAt.Add(time.Second), SubmittedBy: types.Anonymous},
		}, nil),

		// PushSummary request
		*common.NewPushSummaryRequest("node-7", 7, types.EffectiveIndex{
			Tags:           []string{"cats", "dogs"},
			CurrentEntries: 3,
			MaxEntries:     20,
		}),

		// Summary of an empty shard
		*common.NewGetSummaryResponse(types.EffectiveIndex{MaxEntries: 20}),

		// PushModerators request
		*common.NewPushModeratorsRequest("node-1", 4, []types.Identity{"bob", "carol"}),

		// UploadOrder response
		*common.NewNodeIDsResponse(common.MsgTUploadOrder, []types.NodeID{3, 2, 9}, nil),

		// GlobalIndex response
		*common.NewGlobalIndexResponse([]common.IndexRow{
			{Tag: "cats", Shards: []types.NodeID{2, 3}},
			{Tag: "dogs", Shards: []types.NodeID{3}},
		}),

		// SetCapacity request
		*common.NewSetCapacityRequest("admin", 50),

		// Error response
		*common.NewErrorResponse("test error message"),

		// Message with ok and meta
		{
			MsgType: common.MsgTAddModerator,
			Ok:      true,
			Meta:    []byte("test-meta-data"),
		},
	}
}

// TestSerializerRoundTrip tests that messages can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	messages := testMessages()

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, msg := range messages {
				// Serialize
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message %d: %v", i, err)
					continue
				}

				// Deserialize
				var result common.Message
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize message %d: %v", i, err)
					continue
				}

				// Compare
				if !messagesEqual(msg, result) {
					t.Errorf("Message %d doesn't match after round trip:\nOriginal: %+v\nResult: %+v",
						i, msg, result)
				}
			}
		})
	}
}

// TestMessageTypes tests each message type with each serializer
func TestMessageTypes(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			// Test each message type (don't test for MsgTUnknown since this should raise an error)
			for msgType := common.MsgTSuccess; msgType <= common.MsgTMetrics; msgType++ {
				msg := common.Message{MsgType: msgType}

				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message type %s: %v", msgType.String(), err)
					continue
				}

				var result common.Message
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize message type %s: %v", msgType.String(), err)
					continue
				}

				if result.MsgType != msgType {
					t.Errorf("Message type doesn't match after round trip: Expected %s, got %s",
						msgType.String(), result.MsgType.String())
				}
			}
		})
	}
}

// TestBinarySerializerSpecific tests specific edge cases for the binary serializer
func TestBinarySerializerSpecific(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name string
		msg  common.Message
	}{
		{
			name: "Empty message",
			msg:  common.Message{},
		},
		{
			name: "Empty meta slice but not nil",
			msg:  common.Message{MsgType: common.MsgTMetrics, Meta: []byte{}},
		},
		{
			name: "Entry without submission time",
			msg: common.Message{
				MsgType: common.MsgTListAll,
				Entries: []types.Entry{{Tag: "t", Body: "b"}},
			},
		},
		{
			name: "Row without shards",
			msg: common.Message{
				MsgType: common.MsgTGlobalIndex,
				Rows:    []common.IndexRow{{Tag: "orphan"}},
			},
		},
		{
			name: "Large body",
			msg: common.Message{
				MsgType: common.MsgTSubmit,
				Tag:     "big",
				Body:    string(make([]byte, 16*1024)),
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := serializer.Serialize(tc.msg)
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}

			var result common.Message
			if err := serializer.Deserialize(data, &result); err != nil {
				t.Fatalf("Failed to deserialize: %v", err)
			}

			if !messagesEqual(tc.msg, result) {
				t.Errorf("Round trip mismatch:\nOriginal: %+v\nResult: %+v", tc.msg, result)
			}

			// Special handling for byte slices that may be nil or empty
			if (tc.msg.Meta == nil) != (result.Meta == nil) {
				t.Errorf("Meta nil/non-nil mismatch: expected %v, got %v", tc.msg.Meta, result.Meta)
			}
		})
	}
}

// TestDeserializeResetsMessage checks that fields of a reused message are cleared
func TestDeserializeResetsMessage(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			data, err := serializer.Serialize(common.Message{MsgType: common.MsgTSuccess})
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}

			msg := common.Message{Tag: "stale", NodeIDs: []types.NodeID{1}, Ok: true}
			if err := serializer.Deserialize(data, &msg); err != nil {
				t.Fatalf("Failed to deserialize: %v", err)
			}
			if msg.Tag != "" || msg.NodeIDs != nil || msg.Ok {
				t.Errorf("Expected a clean message, got %+v", msg)
			}
		})
	}
}

// TestInvalidBinaryData tests how the binary serializer handles corrupt or invalid data
func TestInvalidBinaryData(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name        string
		data        []byte
		expectError bool
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectError: true,
		},
		{
			name:        "Too short header",
			data:        []byte{1, 0}, // Message type and half of the flags
			expectError: true,
		},
		{
			name:        "Valid header only",
			data:        []byte{1, 0, 0}, // Message type 1, no flags
			expectError: false,
		},
		{
			name:        "Invalid length for caller",
			data:        []byte{1, 0, 1, 0, 0, 0, 5, 'a', 'b', 'c'}, // Claims length 5 but only 3 bytes provided
			expectError: true,
		},
		{
			name:        "Truncated node id",
			data:        []byte{1, 0, 2, 0, 0, 0, 7},
			expectError: true,
		},
		{
			name:        "Node id count larger than data",
			data:        []byte{1, 0, 128, 0xff, 0xff, 0xff, 0xff},
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var msg common.Message
			err := serializer.Deserialize(tc.data, &msg)

			if tc.expectError && err == nil {
				t.Errorf("Expected error but got none")
			} else if !tc.expectError && err != nil {
				t.Errorf("Did not expect error but got: %v", err)
			}
		})
	}
}

// TestFromName tests the serializer lookup used by the command line
func TestFromName(t *testing.T) {
	for _, name := range []string{"binary", "json", "gob"} {
		if _, ok := FromName(name); !ok {
			t.Errorf("Expected serializer %q to exist", name)
		}
	}
	if _, ok := FromName("xml"); ok {
		t.Errorf("Did not expect serializer xml to exist")
	}
}

// messagesEqual compares two messages, treating entry times by instant
func messagesEqual(a, b common.Message) bool {
	if len(a.Entries) != len(b.Entries) {
		return false
	}
	for i := range a.Entries {
		if !a.Entries[i].SubmittedAt.Equal(b.Entries[i].SubmittedAt) {
			return false
		}
	}
	a.Entries, b.Entries = stripTimes(a.Entries), stripTimes(b.Entries)
	if len(a.Meta) == 0 && len(b.Meta) == 0 {
		a.Meta, b.Meta = nil, nil
	}
	return reflect.DeepEqual(a, b)
}

func stripTimes(entries []types.Entry) []types.Entry {
	if entries == nil {
		return nil
	}
	out := make([]types.Entry, len(entries))
	for i, e := range entries {
		e.SubmittedAt = time.Time{}
		out[i] = e
	}
	return out
}
