//go:build linux

package main

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// epollReactor is the Linux Reactor implementation. It is not safe for
// concurrent use; the server loop is the sole caller, same as every other
// piece of session state in this repo (see spec §5).
type epollReactor struct {
	epfd int
}

// NewReactor creates the platform Reactor. On Linux this is an epoll
// instance created with EPOLL_CLOEXEC.
func NewReactor() (Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &epollReactor{epfd: epfd}, nil
}

// toEpollEvents always sets EPOLLET: every registration in this reactor
// is edge-triggered, matching mio's default and the Reactor interface's
// own doc comment. Without it, a socket registered with Writable
// interest (every socket here starts that way; see
// HTTPClient.rearm/Socks5Handler.rearm for when it is dropped) would
// report writable on almost every Poll call while that interest stays
// set, since a live TCP socket's send buffer has room almost
// continuously under level-triggered semantics.
func toEpollEvents(interest Interest) uint32 {
	ev := uint32(unix.EPOLLET)
	if interest&Readable != 0 {
		ev |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if interest&Writable != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (r *epollReactor) Register(fd int, token Token, interest Interest) error {
	ev := &unix.EpollEvent{Events: toEpollEvents(interest)}
	ev.Fd = int32(token)
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return fmt.Errorf("epoll_ctl add fd=%d: %w", fd, err)
	}
	return nil
}

func (r *epollReactor) Reregister(fd int, token Token, interest Interest) error {
	ev := &unix.EpollEvent{Events: toEpollEvents(interest)}
	ev.Fd = int32(token)
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, ev); err != nil {
		return fmt.Errorf("epoll_ctl mod fd=%d: %w", fd, err)
	}
	return nil
}

func (r *epollReactor) Deregister(fd int) error {
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		if err == unix.ENOENT || err == unix.EBADF {
			return nil
		}
		return fmt.Errorf("epoll_ctl del fd=%d: %w", fd, err)
	}
	return nil
}

func (r *epollReactor) Poll(out []Event, timeoutMillis int) ([]Event, error) {
	raw := make([]unix.EpollEvent, 1024)
	n, err := unix.EpollWait(r.epfd, raw, timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return out[:0], nil
		}
		return nil, fmt.Errorf("epoll_wait: %w", err)
	}
	for i := 0; i < n; i++ {
		e := raw[i]
		out = append(out, Event{
			Token:    Token(e.Fd),
			Readable: e.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0,
			Writable: e.Events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0,
		})
	}
	return out, nil
}

func (r *epollReactor) Close() error {
	return unix.Close(r.epfd)
}
