//go:build linux

package main

import (
	"io"
	"net"

	"github.com/sirupsen/logrus"
)

// Socks5State is the SOCKS5 session handler's state machine (spec §4.3).
// It is driven by two sockets: the inbound SOCKS5 socket (self.token) and
// the child HTTPClient's socket (self.childToken).
type Socks5State int

const (
	socksMethodRequest Socks5State = iota
	socksMethodResponse
	socksConnectionRequest
	socksClientConnectionRequest
	socksClientConnectionResponse
	socksConnectionResponse
	socksRelaying
	socksClosed
)

func (s Socks5State) String() string {
	switch s {
	case socksMethodRequest:
		return "MethodRequest"
	case socksMethodResponse:
		return "MethodResponse"
	case socksConnectionRequest:
		return "ConnectionRequest"
	case socksClientConnectionRequest:
		return "ClientConnectionRequest"
	case socksClientConnectionResponse:
		return "ClientConnectionResponse"
	case socksConnectionResponse:
		return "ConnectionResponse"
	case socksRelaying:
		return "Relaying"
	case socksClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Socks5Handler drives the inbound SOCKS5 socket through method
// negotiation, request parsing, upstream handoff, and relay. It owns
// exactly one HTTPClient child (spec §3/§4.3).
type Socks5Handler struct {
	token    Token
	fd       int
	interest Interest

	buffer  []byte
	size    int
	inTotal int

	peer   *net.TCPAddr
	target Target
	state  Socks5State

	upstream ProxyEndpoint

	child      *HTTPClient
	childToken Token
	hasChild   bool

	log *logrus.Entry
}

func newSocks5Handler(token Token, fd int, peer *net.TCPAddr, upstream ProxyEndpoint, log *logrus.Entry) *Socks5Handler {
	return &Socks5Handler{
		token:    token,
		fd:       fd,
		interest: Readable | Writable,
		buffer:   make([]byte, 4096),
		peer:     peer,
		state:    socksMethodRequest,
		upstream: upstream,
		log:      log,
	}
}

// rearm updates the inbound socket's registered interest, skipping the
// Reregister syscall when the interest set hasn't changed. See
// HTTPClient.rearm for why this matters with an edge-triggered reactor.
func (h *Socks5Handler) rearm(reactor Reactor, interest Interest) error {
	if interest == h.interest {
		return nil
	}
	if err := reactor.Reregister(h.fd, h.token, interest); err != nil {
		return err
	}
	h.interest = interest
	return nil
}

// handle advances the handler by one step in response to a readiness event
// naming either self.token or the child's token (spec §4.3). tokens
// mints a fresh Token if the handler needs to create the HTTP client
// during ConnectionRequest; reactor and childTable let it register the
// child socket and record the child→parent mapping.
func (h *Socks5Handler) handle(ev Event, token Token, tokens *tokenCounter, reactor Reactor, childTable map[Token]Token) (bool, error) {
	h.log.WithFields(logrus.Fields{
		"state":    h.state,
		"readable": ev.Readable,
		"writable": ev.Writable,
	}).Debug("SOCKS5 connection state")

	if ev.Readable {
		done, err := h.dispatchReadable(token, tokens, reactor, childTable)
		if err != nil || done {
			return true, err
		}
	}

	if ev.Writable {
		done, err := h.dispatchWritable(token, reactor)
		if err != nil || done {
			return true, err
		}
	}

	if h.state == socksRelaying {
		if token != h.token {
			return relayOut(h)
		}
		return relayIn(h)
	}

	return false, nil
}

func (h *Socks5Handler) dispatchReadable(token Token, tokens *tokenCounter, reactor Reactor, childTable map[Token]Token) (bool, error) {
	switch {
	case h.state == socksMethodRequest && token == h.token:
		return methodRequestStep(h)
	case h.state == socksConnectionRequest && token == h.token:
		return h.handleConnectionRequest(tokens, reactor, childTable)
	case h.state == socksClientConnectionResponse:
		h.state = socksConnectionResponse
		done, err := h.child.handle(synthEvent(true, false), nil, reactor)
		if err != nil || done {
			return true, err
		}
		// The success reply is sent on the inbound socket's next Writable
		// event; methodResponseStep dropped that interest, so re-arm it.
		return false, h.rearm(reactor, Readable|Writable)
	default:
		return false, nil
	}
}

func (h *Socks5Handler) dispatchWritable(token Token, reactor Reactor) (bool, error) {
	switch h.state {
	case socksMethodResponse:
		return methodResponseStep(h, reactor)
	case socksClientConnectionRequest:
		h.state = socksClientConnectionResponse
		return h.child.handle(synthEvent(false, true), nil, reactor)
	case socksConnectionResponse:
		return connectionResponseStep(h, reactor)
	default:
		return false, nil
	}
}

func (h *Socks5Handler) handleConnectionRequest(tokens *tokenCounter, reactor Reactor, childTable map[Token]Token) (bool, error) {
	done, err := connectionRequestStep(h)

	child := newHTTPClient(h.upstream, h.target, h.log.WithField("child-of", h.token))
	childToken := tokens.next()
	connectDone, connectErr := child.connect(childToken, reactor)

	childTable[childToken] = h.token
	h.child = child
	h.childToken = childToken
	h.hasChild = true

	if err != nil || connectErr != nil {
		return true, firstErr(err, connectErr)
	}
	if done || connectDone {
		return true, nil
	}
	return false, nil
}

func firstErr(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

// synthEvent builds a synthetic Event for delegating to the child
// HTTPClient; the child's token isn't meaningful to its own handle()
// implementation, only the readiness bits are.
func synthEvent(readable, writable bool) Event {
	return Event{Readable: readable, Writable: writable}
}

// readStream drains the inbound socket into buffer until EAGAIN, retrying
// on EINTR and growing the buffer in 1024-byte increments when full (spec
// §4.3, same contract as HTTPClient.readBuffer).
func (h *Socks5Handler) readStream() (bool, error) {
	for {
		if h.size == len(h.buffer) {
			h.buffer = append(h.buffer, make([]byte, 1024)...)
		}
		n, err := readNonblocking(h.fd, h.buffer[h.size:])
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
			h.state = socksClosed
			return true, nil
		}
		h.size += n
		h.inTotal += n
	}
	h.buffer = h.buffer[:h.size]
	return false, nil
}

// writeStream makes one write(2) attempt (spec §4.3, same contract as
// HTTPClient.writeBuffer: no retry-loop beyond handshake-sized replies).
// The returned bool reports whether the write would have blocked
// (EAGAIN), so callers can decide whether to keep Writable interest
// armed.
func (h *Socks5Handler) writeStream() (bool, error) {
	n, err := writeNonblocking(h.fd, h.buffer[:h.size])
	if err != nil {
		if wouldBlock(err) {
			return true, nil
		}
		if interrupted(err) {
			h.state = socksClosed
			return false, nil
		}
		return false, err
	}
	if n < h.size {
		return false, io.ErrShortWrite
	}
	h.size = 0
	return false, nil
}

func (h *Socks5Handler) clearBuffer() {
	h.buffer = make([]byte, 4096)
	h.size = 0
}

func (h *Socks5Handler) resetBuffer() {
	h.buffer = h.buffer[:0]
	h.size = 0
}

func (h *Socks5Handler) putByte(v byte) {
	h.buffer = append(h.buffer, v)
	h.size++
}
