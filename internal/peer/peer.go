package peer

import (
	"github.com/pgquorum/walbroadcast/internal/netio"
	"github.com/pgquorum/walbroadcast/internal/wire"
)

// Peer is one configured safekeeper: its endpoint, connection, and current
// position in the state machine. Invariant 3 of spec.md §3: a Peer is in
// SendWal or RecvAck iff CurrentMsg names a still-queued WalMessage —
// enforced by callers (internal/broadcaster), since CurrentMsg is the
// pipeline's sequence-number index, not a value Peer validates itself.
type Peer struct {
	Host string
	Port int

	Index int // this peer's position in BroadcasterState.Peers, used for ack-mask bits

	Socket    netio.Socket
	Connected bool
	State     State
	Info      wire.ServerInfo

	AckLSN uint64 // highest LSN this peer has flushed; monotonic while connected

	HasCurrentMsg bool   // true iff a WalMessage is in flight to this peer (SendWal/RecvAck)
	CurrentMsg    uint64 // sequence number of that message, valid iff HasCurrentMsg
	AsyncOffset   int    // bytes transferred so far for the in-flight send

	// partial read buffers for Handshake, WaitVerdict and Ack reads, each of
	// which reads a fixed-size record that may arrive in more than one
	// read_partial call.
	readBuf    []byte
	readWant   int
	readFilled int
}

// New constructs a Peer in the Offline state for the given endpoint.
func New(index int, host string, port int) *Peer {
	return &Peer{Host: host, Port: port, Index: index, State: Offline}
}

// ResetConnection is invariant-preserving from any state (spec.md §8,
// testable property 6): close the socket and return to Offline with no
// socket held; removing the fd from the poller is left to the caller. If
// the peer had an in-flight message, its
// ack-mask bit for that message simply stays unset — the pipeline
// re-delivers once the peer returns to Idle (spec.md §4.3).
func (p *Peer) ResetConnection() {
	if p.Connected {
		_ = p.Socket.Close()
	}
	p.Socket = netio.Socket{}
	p.Connected = false
	p.State = Offline
	p.Info = wire.ServerInfo{}
	p.HasCurrentMsg = false
	p.CurrentMsg = 0
	p.AsyncOffset = 0
	p.readBuf = nil
	p.readWant = 0
	p.readFilled = 0
}

// BeginRead arms a fixed-size read of n bytes, used when entering
// Handshake (reading the peer's ServerInfo) or WaitVerdict (reading its
// vote verdict NodeId), and for each Ack record once the peer is Idle.
func (p *Peer) BeginRead(n int) {
	p.readBuf = make([]byte, n)
	p.readWant = n
	p.readFilled = 0
}

// FeedRead appends bytes read so far to the pending fixed-size read,
// returning the accumulated buffer and whether it is now complete.
func (p *Peer) FeedRead(chunk []byte) (buf []byte, complete bool) {
	p.readFilled += copy(p.readBuf[p.readFilled:], chunk)
	return p.readBuf[:p.readFilled], p.readFilled >= p.readWant
}

// ReadRemaining returns the slice that the next ReadPartial call should
// fill: the unfilled tail of the pending fixed-size read.
func (p *Peer) ReadRemaining() []byte {
	return p.readBuf[p.readFilled:p.readWant]
}
