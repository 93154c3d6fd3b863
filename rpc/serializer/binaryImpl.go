package serializer

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ValentinKolb/dBucket/lib/types"
	"github.com/ValentinKolb/dBucket/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format.
//
// Layout: 1 byte MsgType, 2 bytes flags (big endian), followed by every field
// whose flag is set, in flag order. Strings and byte slices are prefixed with
// a 4 byte length, lists with a 4 byte element count.
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasCaller     uint16 = 1 << 0
	hasNodeID     uint16 = 1 << 1
	hasTag        uint16 = 1 << 2
	hasBody       uint16 = 1 << 3
	hasCapacity   uint16 = 1 << 4
	hasVersion    uint16 = 1 << 5
	hasIdentities uint16 = 1 << 6
	hasNodeIDs    uint16 = 1 << 7
	hasEntries    uint16 = 1 << 8
	hasSummary    uint16 = 1 << 9
	hasRows       uint16 = 1 << 10
	hasOk         uint16 = 1 << 11
	hasErr        uint16 = 1 << 12
	hasMeta       uint16 = 1 << 13
)

// headerSize is MsgType + flags
const headerSize = 3

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	result := make([]byte, headerSize, b.sizeBytes(msg))
	result[0] = byte(msg.MsgType)

	var flags uint16

	if msg.Caller != "" {
		flags |= hasCaller
		result = appendString(result, string(msg.Caller))
	}
	if msg.NodeID != 0 {
		flags |= hasNodeID
		result = binary.BigEndian.AppendUint64(result, uint64(msg.NodeID))
	}
	if msg.Tag != "" {
		flags |= hasTag
		result = appendString(result, msg.Tag)
	}
	if msg.Body != "" {
		flags |= hasBody
		result = appendString(result, msg.Body)
	}
	if msg.Capacity > 0 {
		flags |= hasCapacity
		result = binary.BigEndian.AppendUint64(result, msg.Capacity)
	}
	if msg.Version > 0 {
		flags |= hasVersion
		result = binary.BigEndian.AppendUint64(result, msg.Version)
	}
	if len(msg.Identities) > 0 {
		flags |= hasIdentities
		result = binary.BigEndian.AppendUint32(result, uint32(len(msg.Identities)))
		for _, id := range msg.Identities {
			result = appendString(result, string(id))
		}
	}
	if len(msg.NodeIDs) > 0 {
		flags |= hasNodeIDs
		result = appendNodeIDs(result, msg.NodeIDs)
	}
	if len(msg.Entries) > 0 {
		flags |= hasEntries
		result = binary.BigEndian.AppendUint32(result, uint32(len(msg.Entries)))
		for _, e := range msg.Entries {
			result = appendString(result, e.Tag)
			result = appendString(result, e.Body)
			result = binary.BigEndian.AppendUint64(result, uint64(unixNano(e.SubmittedAt)))
			result = appendString(result, string(e.SubmittedBy))
		}
	}
	if msg.Summary != nil {
		flags |= hasSummary
		result = binary.BigEndian.AppendUint32(result, uint32(len(msg.Summary.Tags)))
		for _, tag := range msg.Summary.Tags {
			result = appendString(result, tag)
		}
		result = binary.BigEndian.AppendUint64(result, msg.Summary.CurrentEntries)
		result = binary.BigEndian.AppendUint64(result, msg.Summary.MaxEntries)
	}
	if len(msg.Rows) > 0 {
		flags |= hasRows
		result = binary.BigEndian.AppendUint32(result, uint32(len(msg.Rows)))
		for _, row := range msg.Rows {
			result = appendString(result, row.Tag)
			result = appendNodeIDs(result, row.Shards)
		}
	}
	if msg.Ok {
		flags |= hasOk
		result = append(result, 1)
	}
	if msg.Err != "" {
		flags |= hasErr
		result = appendString(result, msg.Err)
	}
	if msg.Meta != nil {
		flags |= hasMeta
		result = binary.BigEndian.AppendUint32(result, uint32(len(msg.Meta)))
		result = append(result, msg.Meta...)
	}

	// Set flags after knowing which fields are present
	binary.BigEndian.PutUint16(result[1:headerSize], flags)

	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + flags)
	if len(data) < headerSize {
		return fmt.Errorf("data too short for message header")
	}

	*msg = common.Message{MsgType: common.MessageType(data[0])}
	flags := binary.BigEndian.Uint16(data[1:headerSize])
	r := &reader{data: data, pos: headerSize}

	if flags&hasCaller != 0 {
		msg.Caller = types.Identity(r.str("caller"))
	}
	if flags&hasNodeID != 0 {
		msg.NodeID = types.NodeID(r.u64("node id"))
	}
	if flags&hasTag != 0 {
		msg.Tag = r.str("tag")
	}
	if flags&hasBody != 0 {
		msg.Body = r.str("body")
	}
	if flags&hasCapacity != 0 {
		msg.Capacity = r.u64("capacity")
	}
	if flags&hasVersion != 0 {
		msg.Version = r.u64("version")
	}
	if flags&hasIdentities != 0 {
		n := r.count("identities")
		for i := 0; i < n && r.err == nil; i++ {
			msg.Identities = append(msg.Identities, types.Identity(r.str("identity")))
		}
	}
	if flags&hasNodeIDs != 0 {
		msg.NodeIDs = r.nodeIDs("node ids")
	}
	if flags&hasEntries != 0 {
		n := r.count("entries")
		for i := 0; i < n && r.err == nil; i++ {
			var e types.Entry
			e.Tag = r.str("entry tag")
			e.Body = r.str("entry body")
			e.SubmittedAt = fromUnixNano(int64(r.u64("entry time")))
			e.SubmittedBy = types.Identity(r.str("entry submitter"))
			msg.Entries = append(msg.Entries, e)
		}
	}
	if flags&hasSummary != 0 {
		summary := &types.EffectiveIndex{}
		n := r.count("summary tags")
		for i := 0; i < n && r.err == nil; i++ {
			summary.Tags = append(summary.Tags, r.str("summary tag"))
		}
		summary.CurrentEntries = r.u64("current entries")
		summary.MaxEntries = r.u64("max entries")
		msg.Summary = summary
	}
	if flags&hasRows != 0 {
		n := r.count("rows")
		for i := 0; i < n && r.err == nil; i++ {
			var row common.IndexRow
			row.Tag = r.str("row tag")
			row.Shards = r.nodeIDs("row shards")
			msg.Rows = append(msg.Rows, row)
		}
	}
	if flags&hasOk != 0 {
		msg.Ok = r.u8("ok flag") != 0
	}
	if flags&hasErr != 0 {
		msg.Err = r.str("error")
	}
	if flags&hasMeta != 0 {
		// an empty (not nil) slice stays empty
		meta := r.raw("meta")
		if r.err == nil {
			msg.Meta = make([]byte, len(meta))
			copy(msg.Meta, meta)
		}
	}

	return r.err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	size := headerSize

	size += 4 + len(msg.Caller)
	size += 8 // node id
	size += 4 + len(msg.Tag)
	size += 4 + len(msg.Body)
	size += 16 // capacity + version
	size += 4
	for _, id := range msg.Identities {
		size += 4 + len(id)
	}
	size += 4 + 8*len(msg.NodeIDs)
	size += 4
	for _, e := range msg.Entries {
		size += 4 + len(e.Tag) + 4 + len(e.Body) + 8 + 4 + len(e.SubmittedBy)
	}
	if msg.Summary != nil {
		size += 4 + 16
		for _, tag := range msg.Summary.Tags {
			size += 4 + len(tag)
		}
	}
	size += 4
	for _, row := range msg.Rows {
		size += 4 + len(row.Tag) + 4 + 8*len(row.Shards)
	}
	size += 1 // ok
	size += 4 + len(msg.Err)
	size += 4 + len(msg.Meta)

	return size
}

func appendString(b []byte, s string) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(s)))
	return append(b, s...)
}

func appendNodeIDs(b []byte, ids []types.NodeID) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(ids)))
	for _, id := range ids {
		b = binary.BigEndian.AppendUint64(b, uint64(id))
	}
	return b
}

// unixNano maps the zero time to 0 so it survives a round trip
func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// reader decodes length-prefixed fields. The first error sticks and turns
// every following read into a no-op.
type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) take(n int, what string) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = fmt.Errorf("data too short for %s", what)
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) u8(what string) byte {
	b := r.take(1, what)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u32(what string) uint32 {
	b := r.take(4, what)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) u64(what string) uint64 {
	b := r.take(8, what)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *reader) raw(what string) []byte {
	n := r.u32(what + " length")
	return r.take(int(n), what)
}

func (r *reader) str(what string) string {
	return string(r.raw(what))
}

// count reads a list length and rejects counts that cannot fit into the rest of the data
func (r *reader) count(what string) int {
	n := int(r.u32(what + " count"))
	if r.err == nil && n > len(r.data)-r.pos {
		r.err = fmt.Errorf("data too short for %s", what)
		return 0
	}
	return n
}

func (r *reader) nodeIDs(what string) []types.NodeID {
	n := r.count(what)
	if r.err != nil || n == 0 {
		return nil
	}
	ids := make([]types.NodeID, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		ids = append(ids, types.NodeID(r.u64(what)))
	}
	return ids
}
