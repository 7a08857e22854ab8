//go:build linux

// Package netio implements the async socket layer of spec.md §4.1:
// non-blocking connect, partial read/write reporting bytes transferred,
// TCP_NODELAY, and transparent EINTR retry.
package netio

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock is returned by Write/Read when the operation would block;
// callers resume later once the poller reports readiness.
var ErrWouldBlock = errors.New("netio: would block")

// Socket is a non-blocking TCP socket identified by its raw fd.
type Socket struct {
	FD int
}

// ConnectAsync begins a non-blocking connection to host:port.
//
// established reports whether the connection completed inline (the
// common case for loopback); if false, the caller must wait for
// writability and then call CheckConnectError to learn the outcome.
func ConnectAsync(host string, port int) (sock Socket, established bool, err error) {
	addrs, err := net.LookupIP(host)
	if err != nil {
		return Socket{}, false, fmt.Errorf("netio: resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return Socket{}, false, fmt.Errorf("netio: no addresses for %s", host)
	}
	ip := addrs[0]

	domain := unix.AF_INET
	var sa unix.Sockaddr
	if ip4 := ip.To4(); ip4 != nil {
		var sa4 unix.SockaddrInet4
		sa4.Port = port
		copy(sa4.Addr[:], ip4)
		sa = &sa4
	} else {
		domain = unix.AF_INET6
		var sa6 unix.SockaddrInet6
		sa6.Port = port
		copy(sa6.Addr[:], ip.To16())
		sa = &sa6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return Socket{}, false, fmt.Errorf("netio: socket: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return Socket{}, false, fmt.Errorf("netio: set nonblock: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		unix.Close(fd)
		return Socket{}, false, fmt.Errorf("netio: set TCP_NODELAY: %w", err)
	}

	for {
		err = unix.Connect(fd, sa)
		if err == nil {
			return Socket{FD: fd}, true, nil
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if errors.Is(err, unix.EINPROGRESS) {
			return Socket{FD: fd}, false, nil
		}
		unix.Close(fd)
		return Socket{}, false, fmt.Errorf("netio: connect: %w", err)
	}
}

// CheckConnectError inspects SO_ERROR after the first writability wakeup
// on a pending connect, per spec.md §4.1. A nil return means the
// connection succeeded.
func (s Socket) CheckConnectError() error {
	errno, err := unix.GetsockoptInt(s.FD, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return fmt.Errorf("netio: getsockopt SO_ERROR: %w", err)
	}
	if errno != 0 {
		return fmt.Errorf("netio: connect failed: %w", unix.Errno(errno))
	}
	return nil
}

// WriteAll performs a bounded blocking write of the entire buffer. Used
// only for small records: the one-shot election-phase ServerInfo handshake
// and vote proposal (spec.md §5), the shutdown quit record, and upstream
// feedback frames to the primary; never for WAL frames.
func (s Socket) WriteAll(buf []byte) error {
	for len(buf) > 0 {
		n, err := unix.Write(s.FD, buf)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.EAGAIN) {
				continue
			}
			return fmt.Errorf("netio: write: %w", err)
		}
		buf = buf[n:]
	}
	return nil
}

// WritePartial attempts to write buf without blocking, returning the
// number of bytes actually transferred before EWOULDBLOCK. A short write
// returns (n, nil) with n < len(buf), and the caller should resume from
// offset n once the socket is next writable; (0, ErrWouldBlock) means
// nothing could be written.
func (s Socket) WritePartial(buf []byte) (int, error) {
	for {
		n, err := unix.Write(s.FD, buf)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.EAGAIN) {
				return 0, ErrWouldBlock
			}
			return 0, fmt.Errorf("netio: write: %w", err)
		}
		return n, nil
	}
}

// ReadPartial reads into buf without blocking, returning the number of
// bytes read. (0, false, ErrWouldBlock) means no data is currently
// available. (0, io.EOF)-equivalent: a clean peer close is reported as
// (0, true, nil).
func (s Socket) ReadPartial(buf []byte) (n int, eof bool, err error) {
	for {
		n, err = unix.Read(s.FD, buf)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.EAGAIN) {
				return 0, false, ErrWouldBlock
			}
			return 0, false, fmt.Errorf("netio: read: %w", err)
		}
		if n == 0 {
			return 0, true, nil
		}
		return n, false, nil
	}
}

// Close closes the underlying fd.
func (s Socket) Close() error {
	if s.FD <= 0 {
		return nil
	}
	return unix.Close(s.FD)
}
