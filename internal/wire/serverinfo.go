package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ServerInfo is sent once by each side at handshake time: the broadcaster
// sends its view of the primary, and each peer replies with its own.
type ServerInfo struct {
	ProtocolVersion uint32
	PgVersion       uint32
	SystemID        uint64
	WalSegSize      uint32
	Timeline        uint32
	WalEnd          uint64
	NodeId          NodeId
}

// serverInfoFixedSize: the 4+4+8+4+4+8 bytes of fixed fields that precede
// the NodeId.
const serverInfoFixedSize = 4 + 4 + 8 + 4 + 4 + 8

func ServerInfoWireSize() int { return serverInfoFixedSize + nodeIdWireSize }

// EncodeServerInfo writes info's wire representation to w.
func EncodeServerInfo(w io.Writer, info ServerInfo) error {
	buf := make([]byte, ServerInfoWireSize())
	binary.LittleEndian.PutUint32(buf[0:4], info.ProtocolVersion)
	binary.LittleEndian.PutUint32(buf[4:8], info.PgVersion)
	binary.LittleEndian.PutUint64(buf[8:16], info.SystemID)
	binary.LittleEndian.PutUint32(buf[16:20], info.WalSegSize)
	binary.LittleEndian.PutUint32(buf[20:24], info.Timeline)
	binary.LittleEndian.PutUint64(buf[24:32], info.WalEnd)
	binary.LittleEndian.PutUint64(buf[32:40], info.NodeId.Term)
	copy(buf[40:56], info.NodeId.UUID.Bytes())
	_, err := w.Write(buf)
	return err
}

// DecodeServerInfo parses a ServerInfo from its wire representation.
func DecodeServerInfo(buf []byte) (ServerInfo, error) {
	want := ServerInfoWireSize()
	if len(buf) < want {
		return ServerInfo{}, fmt.Errorf("wire: short ServerInfo buffer: want %d, got %d", want, len(buf))
	}
	id, err := DecodeNodeId(buf[32:])
	if err != nil {
		return ServerInfo{}, err
	}
	return ServerInfo{
		ProtocolVersion: binary.LittleEndian.Uint32(buf[0:4]),
		PgVersion:       binary.LittleEndian.Uint32(buf[4:8]),
		SystemID:        binary.LittleEndian.Uint64(buf[8:16]),
		WalSegSize:      binary.LittleEndian.Uint32(buf[16:20]),
		Timeline:        binary.LittleEndian.Uint32(buf[20:24]),
		WalEnd:          binary.LittleEndian.Uint64(buf[24:32]),
		NodeId:          id,
	}, nil
}

// AlignToSegment rounds lsn down to the nearest multiple of segSize, the
// WAL-segment boundary replication must start at (invariant 5 of
// spec.md §3).
func AlignToSegment(lsn uint64, segSize uint32) uint64 {
	if segSize == 0 {
		return lsn
	}
	return lsn - (lsn % uint64(segSize))
}
