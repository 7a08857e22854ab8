// Package pipeline implements the broadcast pipeline of spec.md §4.4: an
// ordered, FIFO queue of WalMessages, per-peer acknowledgement tracking,
// and trimming once every configured peer has acked a message.
//
// Per spec.md §9's re-architecture guidance, the queue is not a doubly
// linked list of raw pointers but a slice-backed ring indexed by a
// monotonically increasing sequence number; a peer's position in the
// queue is recorded as that sequence number, never a pointer.
package pipeline

import (
	"fmt"

	"github.com/pgquorum/walbroadcast/internal/wire"
)

// Message is one queued WAL record (spec.md §3's WalMessage).
type Message struct {
	Seq     uint64 // monotonically increasing, assigned on enqueue
	WalPos  uint64 // start_lsn
	Data    []byte // full frame, header + payload, end_lsn already rewritten
	Size    int
	ackedBy []bool // one bit per configured peer
}

// Acked reports whether every configured peer has acknowledged this message.
func (m *Message) Acked() bool {
	for _, ok := range m.ackedBy {
		if !ok {
			return false
		}
	}
	return true
}

// Queue is the ordered, trimmable sequence of in-flight WalMessages.
type Queue struct {
	nPeers  int
	nextSeq uint64
	// messages holds the contiguous live window; head is the sequence
	// number of messages[0] (valid only when len(messages) > 0).
	messages []*Message
	head     uint64
}

// New creates an empty Queue sized for nPeers configured safekeepers.
func New(nPeers int) *Queue {
	return &Queue{nPeers: nPeers}
}

// Enqueue decodes a 'w' copy-data frame's header, rewrites its end_lsn
// slot (spec.md §4.4 step 1), and appends a new Message to the tail.
func (q *Queue) Enqueue(frame wire.WalFrame) (*Message, error) {
	size := len(frame.Data)
	endLSN := frame.StartLSN + uint64(size) - uint64(wire.WalHeaderSize())
	if err := wire.RewriteEndLSN(frame.Data, endLSN); err != nil {
		return nil, fmt.Errorf("pipeline: enqueue: %w", err)
	}

	msg := &Message{
		Seq:     q.nextSeq,
		WalPos:  frame.StartLSN,
		Data:    frame.Data,
		Size:    size,
		ackedBy: make([]bool, q.nPeers),
	}
	if len(q.messages) == 0 {
		q.head = msg.Seq
	}
	q.messages = append(q.messages, msg)
	q.nextSeq++
	return msg, nil
}

// Empty reports whether the queue currently holds no messages.
func (q *Queue) Empty() bool { return len(q.messages) == 0 }

// Len reports the number of messages currently pinned in the queue.
func (q *Queue) Len() int { return len(q.messages) }

// At returns the message at sequence number seq, if it is still queued.
func (q *Queue) At(seq uint64) (*Message, bool) {
	if len(q.messages) == 0 || seq < q.head {
		return nil, false
	}
	idx := int(seq - q.head)
	if idx >= len(q.messages) {
		return nil, false
	}
	return q.messages[idx], true
}

// Ack marks peerIndex as having acknowledged every message up to and
// including upToSeq (safekeepers ack sequentially and in order, per
// spec.md §5), then trims any prefix that now has every peer's bit set
// (spec.md §4.4, "queue trimming").
func (q *Queue) Ack(peerIndex int, upToSeq uint64) {
	for _, msg := range q.messages {
		if msg.Seq > upToSeq {
			break
		}
		if peerIndex < len(msg.ackedBy) {
			msg.ackedBy[peerIndex] = true
		}
	}
	q.trim()
}

func (q *Queue) trim() {
	i := 0
	for i < len(q.messages) && q.messages[i].Acked() {
		i++
	}
	if i == 0 {
		return
	}
	q.messages = q.messages[i:]
	if len(q.messages) > 0 {
		q.head = q.messages[0].Seq
	}
}

// FirstUnacked walks the queue from the head and returns the oldest
// message peerIndex has not yet acknowledged, implementing the
// "safe choice" redelivery policy named in spec.md §9 (Open Question 2):
// a reconnecting peer is resumed from the true oldest gap, not just the
// next fresh arrival.
func (q *Queue) FirstUnacked(peerIndex int) (*Message, bool) {
	for _, msg := range q.messages {
		if peerIndex >= len(msg.ackedBy) || !msg.ackedBy[peerIndex] {
			return msg, true
		}
	}
	return nil, false
}
