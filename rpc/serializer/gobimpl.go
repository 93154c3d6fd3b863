package serializer

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/ValentinKolb/dBucket/rpc/common"
)

// NewGOBSerializer creates a new serializer using Go's binary gob format. Every
// message carries its own type description, so there is no state between calls.
func NewGOBSerializer() IRPCSerializer {
	return &gobSerializerImpl{}
}

// gobSerializerImpl implements the IRPCSerializer interface using gob encoding
type gobSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (g gobSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return nil, fmt.Errorf("gob: encode %s message: %w", msg.MsgType, err)
	}
	return buf.Bytes(), nil
}

func (g gobSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	// gob leaves fields that are absent on the wire untouched
	var decoded common.Message
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&decoded); err != nil {
		return fmt.Errorf("gob: decode message: %w", err)
	}
	*msg = decoded
	return nil
}
