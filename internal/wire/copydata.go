package wire

import (
	"encoding/binary"
	"fmt"
)

// Copy-data tags used on the primary<->broadcaster channel.
const (
	TagWal       byte = 'w' // WAL data
	TagKeepalive byte = 'k' // keepalive, discarded
	TagFeedback  byte = 'r' // standby status update, sent upstream
)

// walHeaderSize is the size of the fixed header at the front of a
// 'w'-tagged copy-data frame: tag(1) + start_lsn(8) + end_lsn(8) + send_time(8).
const walHeaderSize = 1 + 8 + 8 + 8

// WalFrame is a decoded 'w'-tagged copy-data frame. Data retains the
// verbatim header (with EndLSN rewritten per pipeline.Enqueue) followed by
// the payload, so it can be forwarded byte-for-byte to safekeepers.
type WalFrame struct {
	StartLSN uint64
	EndLSN   uint64
	SendTime int64
	Data     []byte // full frame: header + payload, as sent to safekeepers
}

// ParseCopyData inspects the one-byte tag of a copy-data frame and
// dispatches accordingly. ok is false for a keepalive frame, which callers
// should simply discard.
func ParseCopyData(buf []byte) (frame WalFrame, ok bool, err error) {
	if len(buf) == 0 {
		return WalFrame{}, false, fmt.Errorf("wire: empty copy-data frame")
	}
	switch buf[0] {
	case TagKeepalive:
		return WalFrame{}, false, nil
	case TagWal:
		if len(buf) < walHeaderSize {
			return WalFrame{}, false, fmt.Errorf("wire: short 'w' frame: %d bytes", len(buf))
		}
		return WalFrame{
			StartLSN: binary.LittleEndian.Uint64(buf[1:9]),
			EndLSN:   binary.LittleEndian.Uint64(buf[9:17]),
			SendTime: int64(binary.LittleEndian.Uint64(buf[17:25])),
			Data:     buf,
		}, true, nil
	default:
		return WalFrame{}, false, fmt.Errorf("wire: unexpected copy-data tag %q", buf[0])
	}
}

// RewriteEndLSN overwrites the end_lsn slot of a 'w' frame in place, per
// spec.md §3: "the wal_end slot in the header is rewritten on enqueue to
// wal_pos + size - header_size so safekeepers can derive record size
// without parsing."
func RewriteEndLSN(frame []byte, endLSN uint64) error {
	if len(frame) < walHeaderSize {
		return fmt.Errorf("wire: frame too short to rewrite end_lsn: %d bytes", len(frame))
	}
	binary.LittleEndian.PutUint64(frame[9:17], endLSN)
	return nil
}

// WalHeaderSize reports the size of the fixed 'w'-frame header.
func WalHeaderSize() int { return walHeaderSize }

// FeedbackFrame is the upstream 'r'-tagged standby status update.
type FeedbackFrame struct {
	WriteLSN       uint64
	FlushLSN       uint64
	ApplyLSN       uint64
	SendTime       int64
	ReplyRequested bool
}

const feedbackWireSize = 1 + 8 + 8 + 8 + 8 + 1

// EncodeFeedback renders a FeedbackFrame as a copy-data buffer.
func EncodeFeedback(f FeedbackFrame) []byte {
	buf := make([]byte, feedbackWireSize)
	buf[0] = TagFeedback
	binary.LittleEndian.PutUint64(buf[1:9], f.WriteLSN)
	binary.LittleEndian.PutUint64(buf[9:17], f.FlushLSN)
	binary.LittleEndian.PutUint64(buf[17:25], f.ApplyLSN)
	binary.LittleEndian.PutUint64(buf[25:33], uint64(f.SendTime))
	if f.ReplyRequested {
		buf[33] = 1
	}
	return buf
}

// InvalidLSN marks an LSN field the broadcaster does not track (apply_lsn,
// per spec.md §4.2: "the broadcaster sets ... apply_lsn = invalid").
const InvalidLSN uint64 = 0
