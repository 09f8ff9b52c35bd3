//go:build linux

package main

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// httpClientState is the HTTP CONNECT client's state machine (spec §4.2).
type httpClientState int

const (
	httpConnectionRequest httpClientState = iota
	httpConnectionEstablished
	httpRelayingOUT
	httpRelayingIN
	httpClosed
)

func (s httpClientState) String() string {
	switch s {
	case httpConnectionRequest:
		return "ConnectionRequest"
	case httpConnectionEstablished:
		return "ConnectionEstablished"
	case httpRelayingOUT:
		return "RelayingOUT"
	case httpRelayingIN:
		return "RelayingIN"
	case httpClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// HTTPClient drives the upstream TCP socket through the HTTP CONNECT
// handshake and the subsequent byte relay. It owns its own scratch buffer
// (spec §3/§4.2) and is always a child of exactly one Socks5Handler.
type HTTPClient struct {
	upstream ProxyEndpoint
	target   Target

	fd    int
	hasFD bool

	token    Token
	interest Interest

	buffer []byte
	size   int

	state httpClientState
	log   *logrus.Entry
}

func newHTTPClient(upstream ProxyEndpoint, target Target, log *logrus.Entry) *HTTPClient {
	return &HTTPClient{
		upstream: upstream,
		target:   target,
		fd:       -1,
		buffer:   make([]byte, 4096),
		state:    httpConnectionRequest,
		log:      log,
	}
}

// connect opens a non-blocking TCP socket to the upstream proxy and
// registers it with both readable and writable interest. It returns
// done=true on a hard dial failure (the caller must abort the session);
// the connect itself completes asynchronously and readiness is reported by
// the Reactor (spec §4.2).
func (c *HTTPClient) connect(token Token, reactor Reactor) (bool, error) {
	if !c.hasFD {
		fd, err := dialTCPNonblocking(c.upstream.Addr)
		if err != nil {
			c.log.WithError(err).Error("failed to connect to HTTP proxy")
			return true, nil
		}
		c.fd = fd
		c.hasFD = true
	}

	if err := reactor.Register(c.fd, token, Readable|Writable); err != nil {
		return true, err
	}
	c.token = token
	c.interest = Readable | Writable
	return false, nil
}

// rearm updates the child socket's registered interest, skipping the
// Reregister syscall when the interest set hasn't changed. Writable
// interest is dropped once a handshake write finishes and re-added only
// when a write actually reports it would block (spec §9; see
// toEpollEvents for why permanent Writable interest matters here).
func (c *HTTPClient) rearm(reactor Reactor, interest Interest) error {
	if interest == c.interest {
		return nil
	}
	if err := reactor.Reregister(c.fd, c.token, interest); err != nil {
		return err
	}
	c.interest = interest
	return nil
}

// handle advances the client by one step. value carries the borrowed
// inbound payload during RelayingOUT; it is nil in every other state.
func (c *HTTPClient) handle(ev Event, value []byte, reactor Reactor) (bool, error) {
	c.log.WithFields(logrus.Fields{
		"state":    c.state,
		"readable": ev.Readable,
		"writable": ev.Writable,
	}).Debug("HTTP client state")

	var done bool
	var err error

	switch c.state {
	case httpConnectionRequest:
		done, err = httpConnectionRequestStep(c, reactor)
	case httpConnectionEstablished:
		done, err = httpConnectionEstablishedStep(c)
	case httpRelayingOUT:
		c.buffer = append(c.buffer[:0], value...)
		c.size = len(c.buffer)
		done, err = httpRelayOutStep(c)
	case httpRelayingIN:
		eof, rerr := c.readBuffer()
		if rerr != nil {
			return true, rerr
		}
		if c.size == 0 && eof {
			return true, nil
		}
		c.state = httpRelayingOUT
		done, err = false, nil
	default:
		done, err = false, nil
	}

	if err != nil || done {
		return true, err
	}
	return false, nil
}

// readBuffer drains the upstream socket into buffer until EAGAIN,
// retrying on EINTR and growing the buffer in 1024-byte increments when
// full (spec §4.2 "Read loop contract"). A clean EOF closes the client.
func (c *HTTPClient) readBuffer() (bool, error) {
	for {
		if c.size == len(c.buffer) {
			c.buffer = append(c.buffer, make([]byte, 1024)...)
		}
		n, err := readNonblocking(c.fd, c.buffer[c.size:])
		if err != nil {
			if wouldBlock(err) {
				break
			}
			if interrupted(err) {
				continue
			}
			return false, err
		}
		if n == 0 {
			c.state = httpClosed
			return true, nil
		}
		c.size += n
	}
	c.buffer = c.buffer[:c.size]
	return false, nil
}

// writeBuffer makes one write(2) attempt (spec §4.2 "Write contract": no
// retry-loop for partial writes beyond handshake-sized payloads). The
// returned bool reports whether the write would have blocked (EAGAIN),
// so callers can decide whether to keep Writable interest armed.
func (c *HTTPClient) writeBuffer() (bool, error) {
	n, err := writeNonblocking(c.fd, c.buffer[:c.size])
	if err != nil {
		if wouldBlock(err) {
			return true, nil
		}
		if interrupted(err) {
			c.state = httpClosed
			return false, nil
		}
		return false, err
	}
	if n < c.size {
		return false, io.ErrShortWrite
	}
	c.size -= n
	return false, nil
}

// extractStatusCode reads the three ASCII status digits at byte offsets
// 9..12 of the HTTP status line (spec §4.2).
func (c *HTTPClient) extractStatusCode() (int, error) {
	if c.size < 12 {
		return 0, fmt.Errorf("http client: truncated status line (%d bytes)", c.size)
	}
	status := c.buffer[9:12]
	result := 0
	for _, b := range status {
		if b < '0' || b > '9' {
			return 0, fmt.Errorf("http client: non-numeric status code byte %q", b)
		}
		result = result*10 + int(b-'0')
	}
	return result, nil
}

func (c *HTTPClient) clearBuffer() {
	c.buffer = make([]byte, 4096)
	c.size = 0
}

func (c *HTTPClient) resetBuffer() {
	c.buffer = c.buffer[:0]
	c.size = 0
}

func (c *HTTPClient) putBuffer(v []byte) {
	c.buffer = append(c.buffer[:c.size], v...)
	c.size += len(v)
}
