package base

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

const (
	// frameHeaderSize is nodeID (8) + requestID (8) + payload length (4)
	frameHeaderSize = 20
	// maxFrameSize bounds the payload of a single frame, larger length fields are
	// rejected as corrupt
	maxFrameSize = 64 << 20
)

// frameHeader is the fixed size prefix of every frame, all fields big endian
type frameHeader [frameHeaderSize]byte

func (h *frameHeader) put(nodeID, requestID uint64, length int) {
	binary.BigEndian.PutUint64(h[0:8], nodeID)
	binary.BigEndian.PutUint64(h[8:16], requestID)
	binary.BigEndian.PutUint32(h[16:20], uint32(length))
}

func (h *frameHeader) nodeID() uint64    { return binary.BigEndian.Uint64(h[0:8]) }
func (h *frameHeader) requestID() uint64 { return binary.BigEndian.Uint64(h[8:16]) }
func (h *frameHeader) length() int       { return int(binary.BigEndian.Uint32(h[16:20])) }

// writeFrame sends payload addressed to nodeID as a single frame. Header and
// payload go out in one vectored write.
func writeFrame(conn net.Conn, nodeID uint64, requestID uint64, payload []byte) error {
	if len(payload) > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit of %d bytes", len(payload), maxFrameSize)
	}

	var h frameHeader
	h.put(nodeID, requestID, len(payload))

	if len(payload) == 0 {
		_, err := conn.Write(h[:])
		return err
	}
	b := net.Buffers{h[:], payload}
	_, err := b.WriteTo(conn)
	return err
}

// readFrame reads the next frame from conn. The payload is read into buf when it
// fits, so the returned slice is only valid until buf is reused.
func readFrame(conn net.Conn, buf []byte) (nodeID uint64, requestID uint64, payload []byte, err error) {
	var h frameHeader
	if _, err = io.ReadFull(conn, h[:]); err != nil {
		return 0, 0, nil, err
	}

	n := h.length()
	if n > maxFrameSize {
		return 0, 0, nil, fmt.Errorf("frame for node %d announces %d bytes, limit is %d", h.nodeID(), n, maxFrameSize)
	}
	if n == 0 {
		return h.nodeID(), h.requestID(), []byte{}, nil
	}

	if cap(buf) < n {
		buf = make([]byte, n)
	}
	if _, err = io.ReadFull(conn, buf[:n]); err != nil {
		return 0, 0, nil, err
	}
	return h.nodeID(), h.requestID(), buf[:n], nil
}
