package wire

import (
	"encoding/binary"
	"fmt"
)

// ackWireSize is the size of an Ack record: a single little-endian u64 LSN.
const ackWireSize = 8

// EncodeAck renders an acknowledged LSN as its wire representation.
func EncodeAck(lsn uint64) []byte {
	buf := make([]byte, ackWireSize)
	binary.LittleEndian.PutUint64(buf, lsn)
	return buf
}

// DecodeAck parses an Ack record.
func DecodeAck(buf []byte) (uint64, error) {
	if len(buf) < ackWireSize {
		return 0, fmt.Errorf("wire: short Ack buffer: %d bytes", len(buf))
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// AckWireSize reports the number of bytes an Ack record occupies.
func AckWireSize() int { return ackWireSize }

// TagQuit is the first byte of the fixed-size "quit" buffer the
// broadcaster sends each peer once the queue has fully drained.
const TagQuit byte = 'q'

// EncodeQuit renders a quit buffer sized like a WAL frame header, per
// spec.md §4.2 ("one WAL-sized buffer whose first byte is 'q'").
func EncodeQuit() []byte {
	buf := make([]byte, walHeaderSize)
	buf[0] = TagQuit
	return buf
}
