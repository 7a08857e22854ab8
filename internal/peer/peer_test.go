package peer_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pgquorum/walbroadcast/internal/peer"
	"github.com/pgquorum/walbroadcast/internal/wire"
)

func TestNewPeerStartsOffline(t *testing.T) {
	p := peer.New(2, "safekeeper-2", 6401)
	require.Equal(t, peer.Offline, p.State)
	require.Equal(t, 2, p.Index)
	require.Equal(t, "safekeeper-2", p.Host)
}

func TestResetConnectionFromAnyState(t *testing.T) {
	for _, st := range []peer.State{peer.Connecting, peer.Handshake, peer.Vote, peer.WaitVerdict, peer.Idle, peer.SendWal, peer.RecvAck} {
		p := peer.New(0, "h", 1)
		p.State = st
		p.Info = wire.ServerInfo{PgVersion: 1}
		p.HasCurrentMsg = true
		p.CurrentMsg = 42
		p.AsyncOffset = 7

		p.ResetConnection()

		require.Equal(t, peer.Offline, p.State)
		require.False(t, p.Connected)
		require.False(t, p.HasCurrentMsg)
		require.Equal(t, uint64(0), p.CurrentMsg)
		require.Equal(t, 0, p.AsyncOffset)
		require.Equal(t, wire.ServerInfo{}, p.Info)
	}
}

func TestBeginReadFeedReadAcrossMultipleChunks(t *testing.T) {
	p := peer.New(0, "h", 1)
	p.BeginRead(4)

	buf, complete := p.FeedRead([]byte{0xAA, 0xBB})
	require.False(t, complete)
	require.Equal(t, []byte{0xAA, 0xBB}, buf)
	require.Equal(t, 2, len(p.ReadRemaining()))

	buf, complete = p.FeedRead([]byte{0xCC, 0xDD})
	require.True(t, complete)
	require.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xDD}, buf)
}

func TestStateString(t *testing.T) {
	require.Equal(t, "Idle", peer.Idle.String())
	require.Equal(t, "RecvAck", peer.RecvAck.String())
}
