package pipeline_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pgquorum/walbroadcast/internal/pipeline"
	"github.com/pgquorum/walbroadcast/internal/wire"
)

func walFrame(startLSN uint64, payload string) wire.WalFrame {
	size := wire.WalHeaderSize() + len(payload)
	buf := make([]byte, size)
	buf[0] = wire.TagWal
	binary.LittleEndian.PutUint64(buf[1:9], startLSN)
	copy(buf[wire.WalHeaderSize():], payload)
	return wire.WalFrame{StartLSN: startLSN, Data: buf}
}

func TestEnqueueRewritesEndLSN(t *testing.T) {
	q := pipeline.New(2)
	msg, err := q.Enqueue(walFrame(1000, "hello"))
	require.NoError(t, err)
	require.Equal(t, uint64(1000), msg.WalPos)
	require.Equal(t, uint64(1000+5), msg.EndLSN())

	parsed, ok, err := wire.ParseCopyData(msg.Data)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, msg.EndLSN(), parsed.EndLSN)
}

func TestQueueTrimsOnceEveryPeerAcks(t *testing.T) {
	q := pipeline.New(2)
	m0, err := q.Enqueue(walFrame(0, "a"))
	require.NoError(t, err)
	m1, err := q.Enqueue(walFrame(100, "b"))
	require.NoError(t, err)
	require.Equal(t, 2, q.Len())

	q.Ack(0, m0.Seq)
	require.Equal(t, 2, q.Len(), "not trimmed until every peer has acked")

	q.Ack(1, m0.Seq)
	require.Equal(t, 1, q.Len(), "fully-acked prefix is trimmed")

	q.Ack(0, m1.Seq)
	q.Ack(1, m1.Seq)
	require.True(t, q.Empty())
}

func TestFirstUnackedResumesFromOldestGap(t *testing.T) {
	q := pipeline.New(2)
	m0, err := q.Enqueue(walFrame(0, "a"))
	require.NoError(t, err)
	m1, err := q.Enqueue(walFrame(100, "b"))
	require.NoError(t, err)
	_, err = q.Enqueue(walFrame(200, "c"))
	require.NoError(t, err)

	// peer 0 is caught up through m1; peer 1 never acked anything.
	q.Ack(0, m1.Seq)

	next, ok := q.FirstUnacked(0)
	require.True(t, ok)
	require.Equal(t, uint64(2), next.Seq)

	next, ok = q.FirstUnacked(1)
	require.True(t, ok)
	require.Equal(t, m0.Seq, next.Seq)
}

func TestSeqForAckLSN(t *testing.T) {
	q := pipeline.New(1)
	m0, err := q.Enqueue(walFrame(0, "aaaaa"))
	require.NoError(t, err)
	m1, err := q.Enqueue(walFrame(m0.EndLSN(), "bbbbb"))
	require.NoError(t, err)

	seq, ok := q.SeqForAckLSN(m0.EndLSN())
	require.True(t, ok)
	require.Equal(t, m0.Seq, seq)

	seq, ok = q.SeqForAckLSN(m1.EndLSN())
	require.True(t, ok)
	require.Equal(t, m1.Seq, seq)

	_, ok = q.SeqForAckLSN(0)
	require.False(t, ok, "an ack strictly before every queued message's end_lsn is stale")
}

func TestAckedRequiresEveryPeer(t *testing.T) {
	q := pipeline.New(3)
	m0, err := q.Enqueue(walFrame(0, "x"))
	require.NoError(t, err)
	require.False(t, m0.Acked())
	q.Ack(0, m0.Seq)
	q.Ack(1, m0.Seq)
	require.False(t, m0.Acked())
	q.Ack(2, m0.Seq)
	require.True(t, m0.Acked())
}
