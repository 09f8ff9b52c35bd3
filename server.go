//go:build linux

package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// serverToken is the fixed Token of the listening socket.
const serverToken Token = 0

// tokenCounter mints the monotonically increasing Tokens the server hands
// out to every registered socket (spec §9: "One monotonic integer counter
// advances per new socket registration"). Wrap-around is not addressed,
// same as the source this was ported from.
type tokenCounter struct {
	value Token
}

func (t *tokenCounter) next() Token {
	t.value++
	return t.value
}

// Server accepts inbound SOCKS5 connections, mints tokens, creates
// handlers, and routes readiness events to the right handler via two
// lookup tables (spec §2/§4.4).
type Server struct {
	listen   *ProxyEndpoint
	upstream *ProxyEndpoint

	reactor  Reactor
	listenFD int

	slab          *socksSlab
	tokenToKey    map[Token]int
	childToParent map[Token]Token
	tokens        tokenCounter

	log *logrus.Entry
}

// NewServer wires a listener and an upstream CONNECT proxy into a Server.
// It does not bind or start accepting; call Start for that.
func NewServer(listen, upstream *ProxyEndpoint, log *logrus.Entry) *Server {
	return &Server{
		listen:        listen,
		upstream:      upstream,
		slab:          newSocksSlab(),
		tokenToKey:    make(map[Token]int),
		childToParent: make(map[Token]Token),
		log:           log,
	}
}

// Start binds the listener, registers it with a fresh Reactor, and runs
// the accept/dispatch loop until the Reactor reports a fatal error (spec
// §4.4). It only returns on a fatal error; clean shutdown in this core
// happens by process signal, outside this loop (spec §6).
func (s *Server) Start() error {
	reactor, err := NewReactor()
	if err != nil {
		return err
	}
	s.reactor = reactor
	defer s.reactor.Close()

	listenFD, err := listenTCP(s.listen.Addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.listen.Addr, err)
	}
	s.listenFD = listenFD
	defer unix.Close(listenFD)

	if err := s.reactor.Register(listenFD, serverToken, Readable); err != nil {
		return fmt.Errorf("register listener: %w", err)
	}
	s.tokens = tokenCounter{value: serverToken}

	s.log.WithFields(logrus.Fields{
		"listen":   fmt.Sprintf("socks5://%s", s.listen.Addr),
		"upstream": fmt.Sprintf("http://%s", s.upstream.Addr),
	}).Info("proxychain gateway starting")

	events := make([]Event, 0, 1024)
	for {
		var err error
		events, err = s.reactor.Poll(events[:0], -1)
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}

		for _, event := range events {
			if event.Token == serverToken {
				s.acceptAll()
				continue
			}
			s.dispatch(event)
		}
	}
}

// acceptAll drains the listener's accept queue until EAGAIN (spec §4.4
// Accept path).
func (s *Server) acceptAll() {
	for {
		fd, peer, err := acceptOne(s.listenFD)
		if err != nil {
			if wouldBlock(err) {
				return
			}
			if interrupted(err) {
				continue
			}
			s.log.WithError(err).Error("accept error")
			return
		}

		token := s.tokens.next()
		if err := s.reactor.Register(fd, token, Readable|Writable); err != nil {
			s.log.WithError(err).Error("register accepted socket")
			unix.Close(fd)
			continue
		}

		handler := newSocks5Handler(token, fd, peer, *s.upstream, s.log.WithField("token", token))
		key := s.slab.insert(handler)
		s.tokenToKey[token] = key
	}
}

// dispatch resolves an arbitrary token (inbound or child) to its owning
// handler and advances it by one step (spec §4.4 Dispatch path).
func (s *Server) dispatch(event Event) {
	key, ok := s.tokenToKey[event.Token]
	if !ok {
		parent, isChild := s.childToParent[event.Token]
		if !isChild {
			s.log.WithField("token", event.Token).Warn("no handler for token")
			return
		}
		key, ok = s.tokenToKey[parent]
		if !ok {
			delete(s.childToParent, event.Token)
			return
		}
	}

	handler, ok := s.slab.get(key)
	if !ok {
		delete(s.tokenToKey, event.Token)
		delete(s.childToParent, event.Token)
		return
	}

	done, err := handler.handle(event, event.Token, &s.tokens, s.reactor, s.childToParent)
	if err != nil {
		handler.log.WithError(err).Debug("session ended with error")
	}
	if done || err != nil {
		s.teardown(key, handler)
	}
}

// teardown removes a finished handler from every table in one step (spec
// §3 invariants, §8 "both tokens removed from both maps in the same loop
// iteration").
func (s *Server) teardown(key int, h *Socks5Handler) {
	s.slab.remove(key)
	delete(s.tokenToKey, h.token)
	_ = s.reactor.Deregister(h.fd)
	unix.Close(h.fd)

	if h.hasChild {
		delete(s.childToParent, h.childToken)
		if h.child.hasFD {
			_ = s.reactor.Deregister(h.child.fd)
			unix.Close(h.child.fd)
		}
	}
}
