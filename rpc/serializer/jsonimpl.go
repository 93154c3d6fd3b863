package serializer

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/dBucket/rpc/common"
)

// NewJSONSerializer creates a new serializer using json encoding. Message types
// are written by name, which keeps the wire format readable for http callers.
func NewJSONSerializer() IRPCSerializer {
	return &jsonSerializerImpl{}
}

// jsonSerializerImpl implements the IRPCSerializer interface using json encoding
type jsonSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (j jsonSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("json: encode %s message: %w", msg.MsgType, err)
	}
	return b, nil
}

func (j jsonSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	// json.Unmarshal merges into existing values, a reused message must start empty
	var decoded common.Message
	if err := json.Unmarshal(b, &decoded); err != nil {
		return fmt.Errorf("json: decode message: %w", err)
	}
	*msg = decoded
	return nil
}
