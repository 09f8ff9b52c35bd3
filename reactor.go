package main

import "errors"

// Token is an opaque identifier minted by the server and handed to the
// Reactor on registration. The server routes readiness events back to a
// handler purely by Token; the Reactor never interprets it. 32 bits is
// plenty of headroom for one process's lifetime connection count; see
// spec §9 on wrap-around.
type Token uint32

// Interest is a bitset of the readiness conditions a registration cares
// about.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
)

// Event is one readiness notification reported by Poll.
type Event struct {
	Token    Token
	Readable bool
	Writable bool
}

// ErrUnsupportedPlatform is returned by Start on platforms without an
// epoll-backed Reactor implementation.
var ErrUnsupportedPlatform = errors.New("proxychain: reactor not implemented on this platform")

// Reactor owns the OS-level I/O multiplexer. Register adds an fd (adding
// one that is already registered is an error); Reregister replaces a
// registered fd's interest set; Deregister is idempotent. Edge-triggered: once
// a readiness event is reported for a condition, callers must drain/fill
// until they observe EAGAIN or a subsequent event for that condition may
// never arrive.
type Reactor interface {
	Register(fd int, token Token, interest Interest) error
	Reregister(fd int, token Token, interest Interest) error
	Deregister(fd int) error
	// Poll blocks until at least one event is ready or timeoutMillis
	// elapses (-1 blocks indefinitely), appending ready events to out's
	// backing storage and returning the resulting slice.
	Poll(out []Event, timeoutMillis int) ([]Event, error)
	Close() error
}
