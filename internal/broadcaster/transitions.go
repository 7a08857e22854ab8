package broadcaster

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pgquorum/walbroadcast/internal/logging"
	"github.com/pgquorum/walbroadcast/internal/netio"
	"github.com/pgquorum/walbroadcast/internal/netio/poller"
	"github.com/pgquorum/walbroadcast/internal/peer"
	"github.com/pgquorum/walbroadcast/internal/quorum"
	"github.com/pgquorum/walbroadcast/internal/wire"
)

// fail records the first protocol-fatal error seen in a run; Run surfaces
// it on the next loop iteration (spec.md §7 class 2).
func (b *Broadcaster) fail(err error) {
	if b.fatal == nil {
		b.fatal = err
	}
}

// disconnectPeer tears down a peer's connection from any state and leaves
// it Offline, to be retried by Run's reconnect sweep. In-flight
// acknowledgement state for this peer is untouched in the pipeline queue:
// a reconnecting peer resumes from FirstUnacked (spec.md §9 Open Question 2).
func (b *Broadcaster) disconnectPeer(p *peer.Peer, cause error) {
	if p.Connected {
		_ = b.pl.Unregister(p.Socket.FD)
	}
	wasConnected := p.Connected
	p.ResetConnection()
	if wasConnected {
		logging.PeerFields(b.log.Warning(), p.Host, p.Port).Err(cause).Log(`safekeeper disconnected`)
	}
}

// attemptConnect begins (or retries) a non-blocking connect to an Offline
// peer. Failure leaves the peer Offline for Run's next reconnect sweep.
func (b *Broadcaster) attemptConnect(p *peer.Peer) {
	sock, established, err := netio.ConnectAsync(p.Host, p.Port)
	if err != nil {
		logging.PeerFields(b.log.Debug(), p.Host, p.Port).Err(err).Log(`connect attempt failed, will retry`)
		return
	}
	p.Socket = sock
	p.Connected = true
	p.State = peer.Connecting

	cb := func(ev poller.Events) { b.onPeerEvent(p, ev) }
	if err := b.pl.Register(sock.FD, poller.Write, cb); err != nil {
		b.disconnectPeer(p, err)
		return
	}
	if established {
		b.finishConnect(p)
	}
}

// onPeerEvent is the single readiness callback registered for a peer's fd
// for its entire lifetime; it dispatches on the current state rather than
// holding one closure per phase, since only one goroutine ever touches a
// Peer (package peer's doc comment).
func (b *Broadcaster) onPeerEvent(p *peer.Peer, ev poller.Events) {
	if ev.Errored() {
		b.disconnectPeer(p, fmt.Errorf("peer %s:%d: socket error/hangup", p.Host, p.Port))
		return
	}
	if ev.Writable() {
		b.onPeerWritable(p)
	}
	if p.State != peer.Offline && ev.Readable() {
		b.onPeerReadable(p)
	}
}

func (b *Broadcaster) onPeerWritable(p *peer.Peer) {
	switch p.State {
	case peer.Connecting:
		b.finishConnect(p)
	case peer.SendWal:
		b.continueSendWal(p)
	default:
		// Writable with nothing queued to write is not an error: epoll can
		// report it once more before Modify(Read) takes effect.
	}
}

func (b *Broadcaster) onPeerReadable(p *peer.Peer) {
	switch p.State {
	case peer.Handshake:
		b.continueHandshakeRead(p)
	case peer.WaitVerdict:
		b.continueVerdictRead(p)
	case peer.Idle, peer.SendWal, peer.RecvAck:
		b.continueAckRead(p)
	default:
		// Offline/Connecting/Vote have no pending read.
	}
}

func (b *Broadcaster) finishConnect(p *peer.Peer) {
	if err := p.Socket.CheckConnectError(); err != nil {
		b.disconnectPeer(p, err)
		return
	}
	if err := b.sendHandshake(p); err != nil {
		b.disconnectPeer(p, err)
	}
}

// sendHandshake sends our ServerInfo as a one-shot blocking write (spec.md
// §5: "the election phase ... uses one-shot blocking writes"), then arms a
// fixed-size read for the peer's reply.
func (b *Broadcaster) sendHandshake(p *peer.Peer) error {
	var buf bytes.Buffer
	if err := wire.EncodeServerInfo(&buf, b.self); err != nil {
		return fmt.Errorf("broadcaster: encode handshake: %w", err)
	}
	if err := p.Socket.WriteAll(buf.Bytes()); err != nil {
		return fmt.Errorf("broadcaster: send handshake: %w", err)
	}
	p.State = peer.Handshake
	p.BeginRead(wire.ServerInfoWireSize())
	return b.pl.Modify(p.Socket.FD, poller.Read)
}

func (b *Broadcaster) continueHandshakeRead(p *peer.Peer) {
	remaining := p.ReadRemaining()
	n, eof, err := p.Socket.ReadPartial(remaining)
	if eof {
		b.disconnectPeer(p, io.EOF)
		return
	}
	if err != nil {
		if errors.Is(err, netio.ErrWouldBlock) {
			return
		}
		b.disconnectPeer(p, err)
		return
	}
	buf, complete := p.FeedRead(remaining[:n])
	if !complete {
		return
	}
	info, err := wire.DecodeServerInfo(buf)
	if err != nil {
		b.disconnectPeer(p, err)
		return
	}
	if info.ProtocolVersion != wire.ProtocolVersion {
		b.fail(fmt.Errorf("%w: peer %s:%d advertised protocol version %d, want %d",
			ErrFatal, p.Host, p.Port, info.ProtocolVersion, wire.ProtocolVersion))
		return
	}
	p.Info = info
	p.State = peer.Vote
	b.observeVote(p)
}

// observeVote folds a newly-arrived peer's NodeId into the running vote
// round (spec.md §4.3). If this is the quorum-th peer to arrive, the
// broadcaster bumps the observed maximum term and dispatches the proposal
// to every peer currently waiting in Vote; a peer arriving after that
// moment is dispatched to immediately, resolving Open Question 1 as
// lazy/late dispatch (SPEC_FULL.md §4.3, option (a)).
func (b *Broadcaster) observeVote(p *peer.Peer) {
	b.vote.Observe(p.Info.NodeId)

	if b.vote.ReadyToDispatch() {
		proposal := b.vote.Propose()
		logging.PeerFields(b.log.Info(), p.Host, p.Port).
			Uint64(`term`, proposal.Term).Log(`quorum of peers observed, dispatching vote`)
		for _, pp := range b.peers {
			if pp.State == peer.Vote {
				b.dispatchVoteTo(pp, proposal)
			}
		}
		return
	}

	if proposal, dispatched := b.vote.Proposal(); dispatched {
		b.dispatchVoteTo(p, proposal)
	}
}

func (b *Broadcaster) dispatchVoteTo(p *peer.Peer, proposal wire.NodeId) {
	var buf bytes.Buffer
	if err := wire.EncodeNodeId(&buf, proposal); err != nil {
		b.disconnectPeer(p, err)
		return
	}
	if err := p.Socket.WriteAll(buf.Bytes()); err != nil {
		b.disconnectPeer(p, err)
		return
	}
	p.State = peer.WaitVerdict
	p.BeginRead(wire.NodeIdWireSize())
}

func (b *Broadcaster) continueVerdictRead(p *peer.Peer) {
	remaining := p.ReadRemaining()
	n, eof, err := p.Socket.ReadPartial(remaining)
	if eof {
		b.disconnectPeer(p, io.EOF)
		return
	}
	if err != nil {
		if errors.Is(err, netio.ErrWouldBlock) {
			return
		}
		b.disconnectPeer(p, err)
		return
	}
	buf, complete := p.FeedRead(remaining[:n])
	if !complete {
		return
	}
	verdict, err := wire.DecodeNodeId(buf)
	if err != nil {
		b.disconnectPeer(p, err)
		return
	}
	proposal, dispatched := b.vote.Proposal()
	if !dispatched {
		b.fail(fmt.Errorf("%w: peer %s:%d returned a verdict before any proposal was dispatched", ErrFatal, p.Host, p.Port))
		return
	}
	if !verdict.Equal(proposal) {
		// Models "a safekeeper has seen a higher term": this broadcaster is
		// no longer leader and must not continue (spec.md §4.3).
		b.fail(fmt.Errorf("%w: peer %s:%d rejected proposal %s, voted %s", ErrFatal, p.Host, p.Port, proposal, verdict))
		return
	}

	b.vote.RecordVote()
	p.State = peer.Idle
	p.BeginRead(wire.AckWireSize())
	logging.PeerFields(b.log.Info(), p.Host, p.Port).Log(`safekeeper accepted vote`)

	if b.vote.VotesReachedQuorum() && !b.started {
		b.onQuorumReached()
	}
	b.tryDispatch(p)
}

// onQuorumReached fires once when n_votes first reaches quorum: spec.md
// §4.3's "the broadcaster issues START_REPLICATION to the primary at
// GetAcknowledgedWALPosition rounded down to a WAL-segment boundary (if
// zero, use ServerInfo.wal_end)". Connecting a fresh primary stream at
// this position is out of scope (spec.md §1); the already-open primary
// Stream is logged against the computed position instead.
func (b *Broadcaster) onQuorumReached() {
	b.started = true
	startLSN := quorum.AcknowledgedWALPosition(b.ackLSNs(), b.quorumN)
	if startLSN == 0 {
		startLSN = b.self.WalEnd
	}
	startLSN = wire.AlignToSegment(startLSN, b.self.WalSegSize)
	b.log.Info().Uint64(`start_lsn`, startLSN).Log(`quorum reached, replication considered started`)
}

func (b *Broadcaster) ackLSNs() []uint64 {
	out := make([]uint64, len(b.peers))
	for i, p := range b.peers {
		out[i] = p.AckLSN
	}
	return out
}

// continueAckRead decodes one fixed-size Ack record and re-arms the read
// for the next one; acks arrive continuously and independently of
// whatever this peer is currently being sent (spec.md §5's full-duplex
// safekeeper connection).
func (b *Broadcaster) continueAckRead(p *peer.Peer) {
	remaining := p.ReadRemaining()
	n, eof, err := p.Socket.ReadPartial(remaining)
	if eof {
		b.disconnectPeer(p, io.EOF)
		return
	}
	if err != nil {
		if errors.Is(err, netio.ErrWouldBlock) {
			return
		}
		b.disconnectPeer(p, err)
		return
	}
	buf, complete := p.FeedRead(remaining[:n])
	if !complete {
		return
	}
	lsn, err := wire.DecodeAck(buf)
	if err != nil {
		b.disconnectPeer(p, err)
		return
	}
	p.AckLSN = lsn
	p.BeginRead(wire.AckWireSize())

	if seq, ok := b.queue.SeqForAckLSN(lsn); ok {
		b.queue.Ack(p.Index, seq)
		if p.HasCurrentMsg && seq >= p.CurrentMsg {
			p.HasCurrentMsg = false
			if p.State == peer.RecvAck {
				p.State = peer.Idle
			}
			b.tryDispatch(p)
		}
	}
	b.maybeEmitFeedback()
}

// tryDispatch assigns the oldest message peerIndex has not yet
// acknowledged to an Idle peer (spec.md §9 Open Question 2's "safe
// choice": resume from the true oldest gap).
func (b *Broadcaster) tryDispatch(p *peer.Peer) {
	if p.State != peer.Idle {
		return
	}
	msg, ok := b.queue.FirstUnacked(p.Index)
	if !ok {
		return
	}
	p.HasCurrentMsg = true
	p.CurrentMsg = msg.Seq
	p.AsyncOffset = 0
	p.State = peer.SendWal
	if err := b.pl.Modify(p.Socket.FD, poller.Read|poller.Write); err != nil {
		b.disconnectPeer(p, err)
	}
}

func (b *Broadcaster) continueSendWal(p *peer.Peer) {
	msg, ok := b.queue.At(p.CurrentMsg)
	if !ok {
		// Already fully acked and trimmed by every peer before we managed
		// to send it (can happen on a reconnect race); move on.
		p.HasCurrentMsg = false
		p.State = peer.Idle
		if err := b.pl.Modify(p.Socket.FD, poller.Read); err != nil {
			b.disconnectPeer(p, err)
			return
		}
		b.tryDispatch(p)
		return
	}

	n, err := p.Socket.WritePartial(msg.Data[p.AsyncOffset:])
	if err != nil {
		if errors.Is(err, netio.ErrWouldBlock) {
			return
		}
		b.disconnectPeer(p, err)
		return
	}
	p.AsyncOffset += n
	if p.AsyncOffset < len(msg.Data) {
		return
	}

	p.State = peer.RecvAck
	if err := b.pl.Modify(p.Socket.FD, poller.Read); err != nil {
		b.disconnectPeer(p, err)
	}
}

// onPrimaryEvent drains as many complete frames as are currently
// buffered, enqueuing WAL frames and discarding keepalives (spec.md §4.4
// step 1 / §4.2's tag dispatch).
func (b *Broadcaster) onPrimaryEvent(ev poller.Events) {
	if ev.Errored() {
		b.endStreaming()
		return
	}
	for {
		frame, complete, err := b.primary.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				b.log.Warning().Err(err).Log(`primary stream error, treating as stream end`)
			}
			b.endStreaming()
			return
		}
		if !complete {
			return
		}
		parsed, ok, err := wire.ParseCopyData(frame)
		if err != nil {
			b.fail(fmt.Errorf("broadcaster: %w", err))
			return
		}
		if !ok {
			continue // keepalive, discarded per spec.md §4.2
		}
		if _, err := b.queue.Enqueue(parsed); err != nil {
			b.fail(fmt.Errorf("broadcaster: %w", err))
			return
		}
		for _, p := range b.peers {
			b.tryDispatch(p)
		}
	}
}

func (b *Broadcaster) endStreaming() {
	if !b.streaming {
		return
	}
	b.streaming = false
	_ = b.pl.Unregister(b.primary.FD())
	b.log.Info().Log(`primary stream ended`)
}

// maybeEmitFeedback recomputes the quorum commit point and, if it has
// advanced, writes one upstream 'r' feedback frame (spec.md §4.5).
func (b *Broadcaster) maybeEmitFeedback() {
	committed := quorum.AcknowledgedWALPosition(b.ackLSNs(), b.quorumN)
	if committed == 0 || committed <= b.lastAckLSN {
		return
	}
	b.lastAckLSN = committed
	fb := wire.FeedbackFrame{
		WriteLSN: committed,
		FlushLSN: committed,
		ApplyLSN: wire.InvalidLSN, // the broadcaster does not track apply position (spec.md §4.2)
		SendTime: time.Now().UnixMicro(),
	}
	if err := b.primary.WriteFrame(wire.EncodeFeedback(fb)); err != nil {
		b.fail(fmt.Errorf("broadcaster: write feedback: %w", err))
	}
}

// stopSafekeepers sends every still-connected peer a quit record and
// closes its connection (spec.md §4.2: "one WAL-sized buffer whose first
// byte is 'q'").
func (b *Broadcaster) stopSafekeepers() {
	for _, p := range b.peers {
		if !p.Connected {
			continue
		}
		_ = p.Socket.WriteAll(wire.EncodeQuit())
		_ = b.pl.Unregister(p.Socket.FD)
		p.ResetConnection()
	}
}
