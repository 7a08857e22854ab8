// Package wire implements the fixed-layout binary framing used between the
// broadcaster and the primary database (copy-data tags w/k/r) and between
// the broadcaster and its safekeepers (handshake, vote, ack, quit records).
//
// Every record is little-endian; this is an arbitrary but fixed choice —
// the source protocol leaves the choice implementation-defined but requires
// both ends to agree.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/gofrs/uuid"
)

// ProtocolVersion is the fixed constant transmitted in the first
// ServerInfo of a connection; a peer reporting a different value is a
// terminal (protocol-fatal) error.
const ProtocolVersion uint32 = 2

// NodeId identifies a candidate leader: a monotonic term and a random
// tie-breaker. NodeId is totally ordered by term ascending, ties broken
// by a byte-wise comparison of the UUID.
type NodeId struct {
	Term uint64
	UUID uuid.UUID
}

// Compare returns -1, 0, or 1 as n sorts before, equal to, or after other.
//
// The reference C implementation compares a UUID to itself here, almost
// certainly a copy-paste typo; this implements the evidently intended
// semantics — a full lexicographic compare of the two UUIDs.
func (n NodeId) Compare(other NodeId) int {
	if n.Term != other.Term {
		if n.Term < other.Term {
			return -1
		}
		return 1
	}
	return bytes.Compare(n.UUID.Bytes(), other.UUID.Bytes())
}

// Less reports whether n sorts strictly before other.
func (n NodeId) Less(other NodeId) bool { return n.Compare(other) < 0 }

// Equal reports whether n and other identify the same candidate.
func (n NodeId) Equal(other NodeId) bool { return n.Compare(other) == 0 }

// String renders the NodeId as "term/uuid", for logging.
func (n NodeId) String() string { return fmt.Sprintf("%d/%s", n.Term, n.UUID) }

// nodeIdWireSize is the encoded size of a NodeId record: 8-byte term + 16-byte uuid.
const nodeIdWireSize = 8 + 16

// EncodeNodeId writes n's wire representation to w.
func EncodeNodeId(w io.Writer, n NodeId) error {
	var buf [nodeIdWireSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], n.Term)
	copy(buf[8:24], n.UUID.Bytes())
	_, err := w.Write(buf[:])
	return err
}

// DecodeNodeId parses a NodeId from its wire representation.
func DecodeNodeId(buf []byte) (NodeId, error) {
	if len(buf) < nodeIdWireSize {
		return NodeId{}, fmt.Errorf("wire: short NodeId buffer: %d bytes", len(buf))
	}
	id, err := uuid.FromBytes(buf[8:24])
	if err != nil {
		return NodeId{}, fmt.Errorf("wire: decode NodeId uuid: %w", err)
	}
	return NodeId{
		Term: binary.LittleEndian.Uint64(buf[0:8]),
		UUID: id,
	}, nil
}

// NodeIdWireSize is the number of bytes a NodeId occupies on the wire.
func NodeIdWireSize() int { return nodeIdWireSize }
