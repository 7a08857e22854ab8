//go:build linux

package netio_test

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/pgquorum/walbroadcast/internal/netio"
)

func TestConnectAsyncLoopback(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	sock, _, err := netio.ConnectAsync("127.0.0.1", addr.Port)
	require.NoError(t, err)
	defer sock.Close()

	conn := <-accepted
	defer conn.Close()

	require.NoError(t, sock.WriteAll([]byte("ping")))
	buf := make([]byte, 4)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf[:n]))
}

func socketpair(t *testing.T) (a, b netio.Socket) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return netio.Socket{FD: fds[0]}, netio.Socket{FD: fds[1]}
}

func TestReadPartialWouldBlock(t *testing.T) {
	a, _ := socketpair(t)
	buf := make([]byte, 16)
	_, _, err := a.ReadPartial(buf)
	require.True(t, errors.Is(err, netio.ErrWouldBlock))
}

func TestWritePartialThenReadPartial(t *testing.T) {
	a, b := socketpair(t)
	n, err := a.WritePartial([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	buf := make([]byte, 16)
	n, eof, err := b.ReadPartial(buf)
	require.NoError(t, err)
	require.False(t, eof)
	require.Equal(t, "hello", string(buf[:n]))
}

func TestReadPartialEOFOnClose(t *testing.T) {
	a, b := socketpair(t)
	require.NoError(t, a.Close())

	buf := make([]byte, 16)
	_, eof, err := b.ReadPartial(buf)
	require.NoError(t, err)
	require.True(t, eof)
}
