package pipeline

import "github.com/pgquorum/walbroadcast/internal/wire"

// EndLSN returns the message's rewritten end_lsn, the same value a
// safekeeper's Ack reports back once it has flushed this message.
func (m *Message) EndLSN() uint64 {
	return m.WalPos + uint64(m.Size) - uint64(wire.WalHeaderSize())
}

// SeqForAckLSN finds the sequence number of the newest still-queued
// message whose end_lsn is covered by a peer's cumulative ack (spec.md §5:
// "acks are cumulative, safekeepers flush and ack in order"). ok is false
// if lsn predates every message currently in the queue — stale or
// duplicate ack, safe to ignore.
func (q *Queue) SeqForAckLSN(lsn uint64) (seq uint64, ok bool) {
	for i := len(q.messages) - 1; i >= 0; i-- {
		if q.messages[i].EndLSN() <= lsn {
			return q.messages[i].Seq, true
		}
	}
	return 0, false
}
