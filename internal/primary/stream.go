// Package primary models the broadcaster's side of the connection to the
// primary database. spec.md §1 treats the primary's actual WAL-sender
// protocol as an opaque external collaborator ("a byte stream of w/k
// copy-data frames with an LSN header"); this package implements a
// minimal concrete framing over that abstraction — a one-byte tag plus a
// little-endian u32 length prefix per frame — so the rest of the
// broadcaster has something real to read from and write feedback to.
// Wiring this package to an actual libpq COPY BOTH stream is out of
// scope, per spec.md §1's Out-of-scope list.
package primary

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pgquorum/walbroadcast/internal/netio"
)

// Stream is the broadcaster's handle to the primary connection.
type Stream struct {
	sock netio.Socket

	// headerBuf and bodyBuf accumulate a partially-read frame across ReadFrame calls
	// (the socket layer is non-blocking, spec.md §4.1).
	headerBuf    [5]byte
	headerFilled int
	bodyBuf      []byte
	bodyFilled   int
	haveHeader   bool
}

// New wraps an already-connected socket to the primary.
func New(sock netio.Socket) *Stream {
	return &Stream{sock: sock}
}

// FD exposes the underlying descriptor for poller registration.
func (s *Stream) FD() int { return s.sock.FD }

// ReadFrame attempts to make progress on reading one frame. It returns
// (frame, true, nil) once a full frame is available, (nil, false, nil) if
// more data is needed (caller should wait for readability again), and a
// non-nil error — possibly io.EOF — on a primary-side error (spec.md §7
// class 3, treated as stream end).
func (s *Stream) ReadFrame() (frame []byte, complete bool, err error) {
	if !s.haveHeader {
		n, eof, err := s.sock.ReadPartial(s.headerBuf[s.headerFilled:])
		if eof {
			return nil, false, io.EOF
		}
		if err != nil {
			if err == netio.ErrWouldBlock {
				return nil, false, nil
			}
			return nil, false, err
		}
		s.headerFilled += n
		if s.headerFilled < len(s.headerBuf) {
			return nil, false, nil
		}
		bodyLen := binary.LittleEndian.Uint32(s.headerBuf[1:5])
		s.bodyBuf = make([]byte, 1+bodyLen)
		s.bodyBuf[0] = s.headerBuf[0]
		s.bodyFilled = 1
		s.haveHeader = true
		if bodyLen == 0 {
			s.haveHeader = false
			s.headerFilled = 0
			return s.bodyBuf, true, nil
		}
	}

	n, eof, err := s.sock.ReadPartial(s.bodyBuf[s.bodyFilled:])
	if eof {
		return nil, false, io.EOF
	}
	if err != nil {
		if err == netio.ErrWouldBlock {
			return nil, false, nil
		}
		return nil, false, err
	}
	s.bodyFilled += n
	if s.bodyFilled < len(s.bodyBuf) {
		return nil, false, nil
	}
	out := s.bodyBuf
	s.haveHeader = false
	s.headerFilled = 0
	s.bodyBuf = nil
	s.bodyFilled = 0
	return out, true, nil
}

// WriteFrame sends tag-prefixed data upstream, framed the same way
// ReadFrame expects (a bounded, one-shot write, acceptable for the small
// periodic feedback frames per spec.md §5).
func (s *Stream) WriteFrame(buf []byte) error {
	if len(buf) == 0 {
		return fmt.Errorf("primary: empty frame")
	}
	var header [5]byte
	header[0] = buf[0]
	binary.LittleEndian.PutUint32(header[1:5], uint32(len(buf)-1))
	if err := s.sock.WriteAll(header[:]); err != nil {
		return err
	}
	return s.sock.WriteAll(buf[1:])
}

// Close closes the underlying socket.
func (s *Stream) Close() error { return s.sock.Close() }
