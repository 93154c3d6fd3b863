package common

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/dBucket/lib/types"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Identity of the caller, checked against the controller and moderator sets
	Caller types.Identity `json:"caller,omitempty"`

	// Request fields
	NodeID     types.NodeID     `json:"node_id,omitempty"`    // Used for: PushSummary (sending shard)
	Tag        string           `json:"tag,omitempty"`        // Used for: Submit, ListByTag, Lookup
	Body       string           `json:"body,omitempty"`       // Used for: Submit, SetStrategy (request), Metrics (response)
	Capacity   uint64           `json:"capacity,omitempty"`   // Used for: SetCapacity
	Version    uint64           `json:"version,omitempty"`    // Used for: PushModerators
	Identities []types.Identity `json:"identities,omitempty"` // Used for: PushModerators, AddModerator

	// Response fields
	NodeIDs []types.NodeID        `json:"node_ids,omitempty"` // Used for: Lookup, AllShards, UploadOrder
	Entries []types.Entry         `json:"entries,omitempty"`  // Used for: ListByTag, ListAll
	Summary *types.EffectiveIndex `json:"summary,omitempty"`  // Used for: GetSummary (response), PushSummary (request)
	Rows    []IndexRow            `json:"rows,omitempty"`     // Used for: GlobalIndex
	Ok      bool                  `json:"ok,omitempty"`       // Result of state-changing operations
	Err     string                `json:"err,omitempty"`      // Empty if no error, otherwise contains the error message

	// Meta information
	Meta []byte `json:"meta,omitempty"` // Unused, can be used for additional Adapters
}

// IndexRow is one tag of the coordinator's global index
type IndexRow struct {
	Tag    string         `json:"tag"`
	Shards []types.NodeID `json:"shards"`
}

// withErr sets the error message of a response
func (m *Message) withErr(err error) *Message {
	if err != nil {
		m.Err = err.Error()
	}
	return m
}

// --------------------------------------------------------------------------
// Message Factory Functions (shard operations)
// --------------------------------------------------------------------------

// NewSubmitRequest creates a new Submit request
func NewSubmitRequest(caller types.Identity, tag, body string) *Message {
	return &Message{MsgType: MsgTSubmit, Caller: caller, Tag: tag, Body: body}
}

// NewListByTagRequest creates a new ListByTag request
func NewListByTagRequest(caller types.Identity, tag string) *Message {
	return &Message{MsgType: MsgTListByTag, Caller: caller, Tag: tag}
}

// NewListAllRequest creates a new ListAll request
func NewListAllRequest(caller types.Identity) *Message {
	return &Message{MsgType: MsgTListAll, Caller: caller}
}

// NewEntriesResponse creates a response for ListByTag and ListAll
func NewEntriesResponse(msgType MessageType, entries []types.Entry, err error) *Message {
	return (&Message{MsgType: msgType, Entries: entries}).withErr(err)
}

// NewGetSummaryRequest creates a new GetSummary request
func NewGetSummaryRequest() *Message {
	return &Message{MsgType: MsgTGetSummary}
}

// NewGetSummaryResponse creates a new GetSummary response
func NewGetSummaryResponse(summary types.EffectiveIndex) *Message {
	return &Message{MsgType: MsgTGetSummary, Summary: &summary}
}

// NewPushModeratorsRequest creates a new PushModerators request
func NewPushModeratorsRequest(caller types.Identity, version uint64, moderators []types.Identity) *Message {
	return &Message{MsgType: MsgTPushModerators, Caller: caller, Version: version, Identities: moderators}
}

// NewSetCapacityRequest creates a new SetCapacity request
func NewSetCapacityRequest(caller types.Identity, capacity uint64) *Message {
	return &Message{MsgType: MsgTSetCapacity, Caller: caller, Capacity: capacity}
}

// --------------------------------------------------------------------------
// Message Factory Functions (coordinator operations)
// --------------------------------------------------------------------------

// NewPushSummaryRequest creates a new PushSummary request
func NewPushSummaryRequest(caller types.Identity, from types.NodeID, summary types.EffectiveIndex) *Message {
	return &Message{MsgType: MsgTPushSummary, Caller: caller, NodeID: from, Summary: &summary}
}

// NewLookupRequest creates a new Lookup request
func NewLookupRequest(tag string) *Message {
	return &Message{MsgType: MsgTLookup, Tag: tag}
}

// NewAllShardsRequest creates a new AllShards request
func NewAllShardsRequest() *Message {
	return &Message{MsgType: MsgTAllShards}
}

// NewUploadOrderRequest creates a new UploadOrder request
func NewUploadOrderRequest() *Message {
	return &Message{MsgType: MsgTUploadOrder}
}

// NewNodeIDsResponse creates a response for Lookup, AllShards and UploadOrder
func NewNodeIDsResponse(msgType MessageType, ids []types.NodeID, err error) *Message {
	return (&Message{MsgType: msgType, NodeIDs: ids}).withErr(err)
}

// NewGlobalIndexRequest creates a new GlobalIndex request
func NewGlobalIndexRequest() *Message {
	return &Message{MsgType: MsgTGlobalIndex}
}

// NewGlobalIndexResponse creates a new GlobalIndex response
func NewGlobalIndexResponse(rows []IndexRow) *Message {
	return &Message{MsgType: MsgTGlobalIndex, Rows: rows}
}

// NewAddModeratorRequest creates a new AddModerator request
func NewAddModeratorRequest(caller, moderator types.Identity) *Message {
	return &Message{MsgType: MsgTAddModerator, Caller: caller, Identities: []types.Identity{moderator}}
}

// NewSetStrategyRequest creates a new SetStrategy request
func NewSetStrategyRequest(caller types.Identity, strategy string) *Message {
	return &Message{MsgType: MsgTSetStrategy, Caller: caller, Body: strategy}
}

// --------------------------------------------------------------------------
// Message Factory Functions (shared)
// --------------------------------------------------------------------------

// NewOkResponse creates the response of a state-changing operation
func NewOkResponse(msgType MessageType, ok bool, err error) *Message {
	return (&Message{MsgType: msgType, Ok: ok}).withErr(err)
}

// NewMetricsRequest creates a new Metrics request
func NewMetricsRequest() *Message {
	return &Message{MsgType: MsgTMetrics}
}

// NewMetricsResponse creates a new Metrics response carrying the formatted report
func NewMetricsResponse(report string) *Message {
	return &Message{MsgType: MsgTMetrics, Body: report}
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

var messageTypeNames = map[MessageType]string{
	MsgTSuccess:        "success",
	MsgTError:          "error",
	MsgTSubmit:         "submit",
	MsgTListByTag:      "listByTag",
	MsgTListAll:        "listAll",
	MsgTGetSummary:     "getSummary",
	MsgTPushModerators: "pushModerators",
	MsgTSetCapacity:    "setCapacity",
	MsgTPushSummary:    "pushSummary",
	MsgTLookup:         "lookup",
	MsgTAllShards:      "allShards",
	MsgTUploadOrder:    "uploadOrder",
	MsgTGlobalIndex:    "globalIndex",
	MsgTAddModerator:   "addModerator",
	MsgTSetStrategy:    "setStrategy",
	MsgTMetrics:        "metrics",
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for msgType, name := range messageTypeNames {
		if name == s {
			*t = msgType
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// Shard operations

	MsgTSubmit         // Store a new entry
	MsgTListByTag      // List the caller's and anonymous entries of a tag
	MsgTListAll        // List all entries (moderators only)
	MsgTGetSummary     // Get the effective index of a shard
	MsgTPushModerators // Replace the moderator set of a shard
	MsgTSetCapacity    // Change the capacity of a shard

	// Coordinator operations

	MsgTPushSummary  // Publish the effective index of a shard
	MsgTLookup       // Shards holding a tag
	MsgTAllShards    // All known shards
	MsgTUploadOrder  // Shards ranked for writers
	MsgTGlobalIndex  // The full tag map
	MsgTAddModerator // Add a privileged caller
	MsgTSetStrategy  // Switch the placement strategy

	// Shared operations

	MsgTMetrics // Formatted metrics report of a node
)
