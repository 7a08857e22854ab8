//go:build linux

package poller_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/pgquorum/walbroadcast/internal/netio/poller"
)

func socketpair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))
	return fds[0], fds[1]
}

func TestPollerReportsWritableImmediately(t *testing.T) {
	p, err := poller.New()
	require.NoError(t, err)
	defer p.Close()

	a, _ := socketpair(t)
	var got poller.Events
	require.NoError(t, p.Register(a, poller.Write, func(ev poller.Events) { got = ev }))
	require.NoError(t, p.Wait(1000))
	require.True(t, got.Writable())
}

func TestPollerReportsReadableAfterWrite(t *testing.T) {
	p, err := poller.New()
	require.NoError(t, err)
	defer p.Close()

	a, b := socketpair(t)
	_, err = unix.Write(b, []byte("hi"))
	require.NoError(t, err)

	var got poller.Events
	require.NoError(t, p.Register(a, poller.Read, func(ev poller.Events) { got = ev }))
	require.NoError(t, p.Wait(1000))
	require.True(t, got.Readable())

	buf := make([]byte, 2)
	n, err := unix.Read(a, buf)
	require.NoError(t, err)
	require.Equal(t, "hi", string(buf[:n]))
}

func TestPollerUnregisterIsIdempotent(t *testing.T) {
	p, err := poller.New()
	require.NoError(t, err)
	defer p.Close()

	a, _ := socketpair(t)
	require.NoError(t, p.Unregister(a))
	require.NoError(t, p.Register(a, poller.Write, func(poller.Events) {}))
	require.NoError(t, p.Unregister(a))
	require.NoError(t, p.Unregister(a))
}

func TestPollerModifyChangesInterest(t *testing.T) {
	p, err := poller.New()
	require.NoError(t, err)
	defer p.Close()

	a, b := socketpair(t)
	var calls int
	require.NoError(t, p.Register(a, poller.Write, func(poller.Events) { calls++ }))
	require.NoError(t, p.Wait(1000))
	require.Equal(t, 1, calls)

	// Drop write interest, add read interest; a write-only wakeup should no
	// longer fire, but data arriving should.
	require.NoError(t, p.Modify(a, poller.Read))
	_, err = unix.Write(b, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, p.Wait(1000))
	require.Equal(t, 2, calls)
}

func TestWaitTimesOutWithoutActivity(t *testing.T) {
	p, err := poller.New()
	require.NoError(t, err)
	defer p.Close()

	start := time.Now()
	require.NoError(t, p.Wait(50))
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}
