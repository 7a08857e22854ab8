package wire_test

import (
	"bytes"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pgquorum/walbroadcast/internal/wire"
)

func mustUUID(t *testing.T, b byte) uuid.UUID {
	t.Helper()
	var raw [16]byte
	for i := range raw {
		raw[i] = b
	}
	id, err := uuid.FromBytes(raw[:])
	require.NoError(t, err)
	return id
}

func TestNodeIdOrdering(t *testing.T) {
	low := wire.NodeId{Term: 5, UUID: mustUUID(t, 0xAA)}
	high := wire.NodeId{Term: 6, UUID: mustUUID(t, 0x00)}
	require.True(t, low.Less(high))
	require.False(t, high.Less(low))

	tieA := wire.NodeId{Term: 7, UUID: mustUUID(t, 0x01)}
	tieB := wire.NodeId{Term: 7, UUID: mustUUID(t, 0x02)}
	require.True(t, tieA.Less(tieB))
	require.True(t, tieA.Equal(tieA))
}

func TestNodeIdRoundTrip(t *testing.T) {
	id := wire.NodeId{Term: 42, UUID: mustUUID(t, 0x07)}
	var buf bytes.Buffer
	require.NoError(t, wire.EncodeNodeId(&buf, id))
	got, err := wire.DecodeNodeId(buf.Bytes())
	require.NoError(t, err)
	require.True(t, id.Equal(got))
}

func TestServerInfoRoundTrip(t *testing.T) {
	info := wire.ServerInfo{
		ProtocolVersion: wire.ProtocolVersion,
		PgVersion:       150003,
		SystemID:        0xDEADBEEFCAFE,
		WalSegSize:      16 * 1024 * 1024,
		Timeline:        1,
		WalEnd:          123456,
		NodeId:          wire.NodeId{Term: 3, UUID: mustUUID(t, 0x09)},
	}
	var buf bytes.Buffer
	require.NoError(t, wire.EncodeServerInfo(&buf, info))
	got, err := wire.DecodeServerInfo(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, info.ProtocolVersion, got.ProtocolVersion)
	require.Equal(t, info.SystemID, got.SystemID)
	require.True(t, info.NodeId.Equal(got.NodeId))
}

func TestParseCopyDataKeepaliveIsDiscarded(t *testing.T) {
	_, ok, err := wire.ParseCopyData([]byte{wire.TagKeepalive, 0, 0})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestParseCopyDataWalFrame(t *testing.T) {
	buf := make([]byte, wire.WalHeaderSize()+5)
	buf[0] = wire.TagWal
	frame, ok, err := wire.ParseCopyData(buf)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(0), frame.StartLSN)
}

func TestParseCopyDataUnknownTag(t *testing.T) {
	_, _, err := wire.ParseCopyData([]byte{'z'})
	require.Error(t, err)
}

func TestRewriteEndLSN(t *testing.T) {
	buf := make([]byte, wire.WalHeaderSize())
	buf[0] = wire.TagWal
	require.NoError(t, wire.RewriteEndLSN(buf, 777))
	frame, ok, err := wire.ParseCopyData(buf)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(777), frame.EndLSN)
}

func TestAlignToSegment(t *testing.T) {
	require.Equal(t, uint64(0), wire.AlignToSegment(100, 16*1024*1024))
	segSize := uint32(16 * 1024 * 1024)
	require.Equal(t, uint64(segSize), wire.AlignToSegment(uint64(segSize)+100, segSize))
	require.Equal(t, uint64(500), wire.AlignToSegment(500, 0))
}

func TestAckRoundTrip(t *testing.T) {
	buf := wire.EncodeAck(987654321)
	got, err := wire.DecodeAck(buf)
	require.NoError(t, err)
	require.Equal(t, uint64(987654321), got)
}

func TestEncodeQuit(t *testing.T) {
	buf := wire.EncodeQuit()
	require.Equal(t, wire.TagQuit, buf[0])
	require.Equal(t, wire.WalHeaderSize(), len(buf))
}
