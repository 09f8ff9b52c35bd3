//go:build linux

package main

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// wouldBlock reports whether err is EAGAIN/EWOULDBLOCK, i.e. "try again
// once the reactor reports readiness."
func wouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}

// interrupted reports whether err is EINTR, i.e. "retry the same call
// immediately."
func interrupted(err error) bool {
	return err == unix.EINTR
}

func sockaddrFromTCPAddr(addr *net.TCPAddr) (unix.Sockaddr, int, error) {
	if ip4 := addr.IP.To4(); ip4 != nil {
		var sa unix.SockaddrInet4
		sa.Port = addr.Port
		copy(sa.Addr[:], ip4)
		return &sa, unix.AF_INET, nil
	}
	ip6 := addr.IP.To16()
	if ip6 == nil {
		return nil, 0, fmt.Errorf("socket: invalid IP %q", addr.IP)
	}
	var sa unix.SockaddrInet6
	sa.Port = addr.Port
	copy(sa.Addr[:], ip6)
	return &sa, unix.AF_INET6, nil
}

// tcpAddrFromSockaddr converts a raw accept(2)/getpeername(2) address back
// into a *net.TCPAddr for logging and for Target bookkeeping.
func tcpAddrFromSockaddr(sa unix.Sockaddr) *net.TCPAddr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, 4)
		copy(ip, v.Addr[:])
		return &net.TCPAddr{IP: ip, Port: v.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, 16)
		copy(ip, v.Addr[:])
		return &net.TCPAddr{IP: ip, Port: v.Port}
	default:
		return nil
	}
}

// listenTCP creates a non-blocking, listening TCP socket bound to addr with
// SO_REUSEADDR set, matching the teacher's net.Listen call but down at the
// raw-fd level the epoll reactor needs.
func listenTCP(addr *net.TCPAddr) (int, error) {
	_, family, err := sockaddrFromTCPAddr(addr)
	if err != nil {
		return -1, err
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	sa, _, err := sockaddrFromTCPAddr(addr)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind %s: %w", addr, err)
	}
	if err := unix.Listen(fd, 1024); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen %s: %w", addr, err)
	}
	return fd, nil
}

// acceptOne performs one non-blocking accept4(2) call. A (-1, nil, wouldBlock)
// result means "no more connections queued right now."
func acceptOne(listenFD int) (int, *net.TCPAddr, error) {
	fd, sa, err := unix.Accept4(listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, nil, err
	}
	if err := tuneSocket(fd); err != nil {
		unix.Close(fd)
		return -1, nil, err
	}
	return fd, tcpAddrFromSockaddr(sa), nil
}

// dialTCPNonblocking starts a non-blocking connect(2). A nil error means
// either the connection completed immediately or (far more commonly) it is
// in progress and the reactor will report writability once it resolves.
func dialTCPNonblocking(addr *net.TCPAddr) (int, error) {
	sa, family, err := sockaddrFromTCPAddr(addr)
	if err != nil {
		return -1, err
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := tuneSocket(fd); err != nil {
		unix.Close(fd)
		return -1, err
	}
	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return -1, fmt.Errorf("connect %s: %w", addr, err)
	}
	return fd, nil
}

// tuneSocket applies the same performance options the teacher set through
// net.Dialer.Control (sockopt_linux.go): disable Nagle for low handshake
// latency, and enable TCP keepalive so a dead upstream or client doesn't
// pin a session open forever (spec §9 notes this repo has no idle-timeout
// timers of its own; keepalive is the one OS-level backstop it keeps).
func tuneSocket(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		return fmt.Errorf("setsockopt TCP_NODELAY: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return fmt.Errorf("setsockopt SO_KEEPALIVE: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, 30); err != nil {
		return fmt.Errorf("setsockopt TCP_KEEPIDLE: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, 10); err != nil {
		return fmt.Errorf("setsockopt TCP_KEEPINTVL: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, 3); err != nil {
		return fmt.Errorf("setsockopt TCP_KEEPCNT: %w", err)
	}
	return nil
}

func readNonblocking(fd int, buf []byte) (int, error) {
	return unix.Read(fd, buf)
}

func writeNonblocking(fd int, buf []byte) (int, error) {
	return unix.Write(fd, buf)
}
