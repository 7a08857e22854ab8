//go:build linux

package poller

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrClosed is returned by operations on a closed Poller.
var ErrClosed = errors.New("poller: closed")

type fdEntry struct {
	cb     Callback
	events Events
}

// Poller is a thin epoll wrapper: register a fd with a callback, Wait once
// per event-loop iteration, and it dispatches readiness to callbacks.
type Poller struct {
	epfd      int
	fds       map[int32]*fdEntry
	eventsBuf []unix.EpollEvent
	closed    bool
}

// New creates and initializes an epoll instance.
func New() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("poller: epoll_create1: %w", err)
	}
	return &Poller{
		epfd:      epfd,
		fds:       make(map[int32]*fdEntry),
		eventsBuf: make([]unix.EpollEvent, 64),
	}, nil
}

// Close releases the epoll fd. Registered sockets are not touched; callers
// own their lifecycle (mirrors spec.md §4.1: close(handle) is a separate
// socket-layer operation).
func (p *Poller) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return unix.Close(p.epfd)
}

// Register starts monitoring fd for the given events, invoking cb on
// readiness. Registering an already-registered fd replaces its callback
// and interest set.
func (p *Poller) Register(fd int, events Events, cb Callback) error {
	if p.closed {
		return ErrClosed
	}
	op := uint32(unix.EPOLL_CTL_ADD)
	if _, exists := p.fds[int32(fd)]; exists {
		op = unix.EPOLL_CTL_MOD
	}
	ev := &unix.EpollEvent{Events: toEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, int(op), fd, ev); err != nil {
		return fmt.Errorf("poller: epoll_ctl: %w", err)
	}
	p.fds[int32(fd)] = &fdEntry{cb: cb, events: events}
	return nil
}

// Modify updates the interest set for an already-registered fd.
func (p *Poller) Modify(fd int, events Events) error {
	entry, ok := p.fds[int32(fd)]
	if !ok {
		return fmt.Errorf("poller: fd %d not registered", fd)
	}
	ev := &unix.EpollEvent{Events: toEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev); err != nil {
		return fmt.Errorf("poller: epoll_ctl mod: %w", err)
	}
	entry.events = events
	return nil
}

// Unregister stops monitoring fd. It is safe to call on an fd that was
// never registered.
func (p *Poller) Unregister(fd int) error {
	if _, ok := p.fds[int32(fd)]; !ok {
		return nil
	}
	delete(p.fds, int32(fd))
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && !errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("poller: epoll_ctl del: %w", err)
	}
	return nil
}

// Wait blocks for readiness (or timeoutMs milliseconds, -1 for forever)
// and dispatches callbacks for every ready fd. It is the loop's one
// suspension point, per spec.md §5.
func (p *Poller) Wait(timeoutMs int) error {
	if p.closed {
		return ErrClosed
	}
	for {
		n, err := unix.EpollWait(p.epfd, p.eventsBuf, timeoutMs)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("poller: epoll_wait: %w", err)
		}
		for i := 0; i < n; i++ {
			ev := p.eventsBuf[i]
			entry, ok := p.fds[ev.Fd]
			if !ok || entry.cb == nil {
				continue
			}
			entry.cb(fromEpoll(ev.Events))
		}
		return nil
	}
}

func toEpoll(events Events) uint32 {
	var out uint32
	if events.Readable() {
		out |= unix.EPOLLIN
	}
	if events.Writable() {
		out |= unix.EPOLLOUT
	}
	return out
}

func fromEpoll(raw uint32) Events {
	var out Events
	if raw&unix.EPOLLIN != 0 {
		out |= Read
	}
	if raw&unix.EPOLLOUT != 0 {
		out |= Write
	}
	if raw&unix.EPOLLERR != 0 {
		out |= Error
	}
	if raw&unix.EPOLLHUP != 0 || raw&unix.EPOLLRDHUP != 0 {
		out |= Hangup
	}
	return out
}
