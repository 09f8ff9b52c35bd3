//go:build linux

package main

import (
	"encoding/binary"
	"net"

	"github.com/sirupsen/logrus"
)

// SOCKS5 wire constants (RFC 1928), restricted per spec §6 to no-auth,
// CONNECT, and the three address types.
const (
	socks5Version = 0x05

	authNoAuth = 0x00

	cmdConnect = 0x01

	atypIPv4   = 0x01
	atypDomain = 0x03
	atypIPv6   = 0x04
)

// methodRequestStep parses VER | NMETHODS | METHODS... and requires 0x00
// (no-auth) among the offered methods (spec §4.3 MethodRequest).
func methodRequestStep(h *Socks5Handler) (bool, error) {
	h.log.Debug("SOCKS5 method request")

	h.clearBuffer()
	eof, err := h.readStream()
	if err != nil {
		h.log.WithError(err).Error("during SOCKS5 method request")
		return true, err
	}
	if eof {
		h.log.Debug("SOCKS5 method request interrupted")
		return true, nil
	}

	n := h.size
	if n < 3 {
		h.log.Error("truncated method request")
		h.state = socksClosed
		return true, nil
	}

	version := h.buffer[0]
	nmethod := int(h.buffer[1])

	if version != socks5Version {
		h.log.WithField("version", version).Error("unsupported SOCKS version")
		h.state = socksClosed
		return true, nil
	}
	if n != 2+nmethod {
		h.log.Error("truncated method request")
		h.state = socksClosed
		return true, nil
	}

	hasNoAuth := false
	for _, m := range h.buffer[2:n] {
		if m == authNoAuth {
			hasNoAuth = true
			break
		}
	}
	if !hasNoAuth {
		h.log.Error("client offered no acceptable auth method")
		h.state = socksClosed
		return true, nil
	}

	h.state = socksMethodResponse
	return false, nil
}

// methodResponseStep emits the two-byte "no-auth accepted" reply.
// Writable interest is dropped once the reply is fully written and
// re-armed only if the write itself reports it would block, so the
// registered interest matches what the handler still waits for.
func methodResponseStep(h *Socks5Handler, reactor Reactor) (bool, error) {
	h.log.Debug("SOCKS5 method response")

	h.resetBuffer()
	h.putByte(socks5Version)
	h.putByte(authNoAuth)

	blocked, err := h.writeStream()
	h.state = socksConnectionRequest
	if err != nil {
		return true, err
	}

	interest := Readable
	if blocked {
		interest |= Writable
	}
	if rerr := h.rearm(reactor, interest); rerr != nil {
		return true, rerr
	}
	return h.state == socksClosed, nil
}

// connectionRequestStep parses VER | CMD | RSV | ATYP | DST.ADDR | DST.PORT
// and builds the session Target (spec §4.3 ConnectionRequest).
func connectionRequestStep(h *Socks5Handler) (bool, error) {
	h.log.Debug("SOCKS5 connection request")

	h.clearBuffer()
	eof, err := h.readStream()
	if err != nil {
		h.log.WithError(err).Error("during SOCKS5 connection request")
		return true, err
	}
	if eof {
		h.log.Debug("SOCKS5 connection request interrupted")
		return true, nil
	}

	n := h.size
	if n < 4 {
		h.log.Error("truncated connection request")
		h.state = socksClosed
		return true, nil
	}

	version := h.buffer[0]
	cmd := h.buffer[1]
	rsv := h.buffer[2]
	atyp := h.buffer[3]

	if version != socks5Version {
		h.log.WithField("version", version).Error("unsupported SOCKS version")
		h.state = socksClosed
		return true, nil
	}
	if cmd != cmdConnect {
		h.log.WithField("cmd", cmd).Error("unsupported SOCKS command")
		h.state = socksClosed
		return true, nil
	}
	if rsv != 0x00 {
		h.log.Error("unexpected nonzero RSV byte")
		h.state = socksClosed
		return true, nil
	}

	var target Target

	switch atyp {
	case atypIPv4:
		if n < 10 {
			h.log.Error("truncated IPv4 connection request")
			h.state = socksClosed
			return true, nil
		}
		ip := net.IP(append(net.IP{}, h.buffer[4:8]...))
		port := binary.BigEndian.Uint16(h.buffer[8:10])
		target.IP = ip.String()
		target.Domain = target.IP
		target.Port = port
		target.Addr = &net.TCPAddr{IP: ip, Port: int(port)}

	case atypIPv6:
		if n < 22 {
			h.log.Error("truncated IPv6 connection request")
			h.state = socksClosed
			return true, nil
		}
		ip := net.IP(append(net.IP{}, h.buffer[4:20]...))
		port := binary.BigEndian.Uint16(h.buffer[20:22])
		target.IP = ip.String()
		target.Domain = target.IP
		target.Port = port
		target.Addr = &net.TCPAddr{IP: ip, Port: int(port)}

	case atypDomain:
		if n < 8 {
			h.log.Error("truncated domain connection request")
			h.state = socksClosed
			return true, nil
		}
		domainLen := int(h.buffer[4])
		if n < 5+domainLen+2 {
			h.log.Error("truncated domain connection request")
			h.state = socksClosed
			return true, nil
		}
		domain := string(h.buffer[5 : 5+domainLen])
		port := binary.BigEndian.Uint16(h.buffer[n-2 : n])

		h.log.WithField("domain", domain).Debug("requested domain")
		ip, rerr := resolveHost(domain)
		if rerr != nil {
			h.log.WithError(rerr).Error("failed to resolve requested domain")
			h.state = socksClosed
			return true, nil
		}
		target.IP = ip.String()
		target.Domain = domain
		target.Port = port
		target.Addr = &net.TCPAddr{IP: ip, Port: int(port)}

	default:
		h.log.WithField("atyp", atyp).Error("unexpected ATYP")
		h.state = socksClosed
		return true, nil
	}

	h.log.WithFields(logrus.Fields{
		"peer":   h.peer,
		"domain": target.Domain,
		"port":   target.Port,
	}).Info("connection requested")

	h.target = target
	h.state = socksClientConnectionRequest
	return false, nil
}

// connectionResponseStep emits the SOCKS5 success reply: VER, REP=success,
// RSV, ATYP=IPv4, BND.ADDR=0.0.0.0, BND.PORT=0 (spec §4.3/§6). Once
// Relaying starts, the live relay path (relayIn/relayOut) writes
// directly without waiting on a Writable event, so Writable interest is
// dropped here the same way methodResponseStep drops it.
func connectionResponseStep(h *Socks5Handler, reactor Reactor) (bool, error) {
	h.log.Debug("SOCKS5 connection response")

	h.resetBuffer()
	h.putByte(0x05)
	h.putByte(0x00)
	h.putByte(0x00)
	h.putByte(0x01)
	h.putByte(0x00)
	h.putByte(0x00)
	h.putByte(0x00)
	h.putByte(0x00)
	h.putByte(0x00)
	h.putByte(0x00)

	blocked, err := h.writeStream()
	h.state = socksRelaying
	if err != nil {
		return true, err
	}

	interest := Readable
	if blocked {
		interest |= Writable
	}
	if rerr := h.rearm(reactor, interest); rerr != nil {
		return true, rerr
	}
	return h.state == socksClosed, nil
}

// relayIn handles a readable event on the inbound socket: client → upstream
// (spec §4.3 Relaying, "Event on inbound token").
func relayIn(h *Socks5Handler) (bool, error) {
	h.clearBuffer()
	eof, err := h.readStream()
	if err != nil {
		h.log.WithError(err).Error("during SOCKS5 relay in")
		return true, err
	}
	if eof {
		h.log.Debug("SOCKS5 relay in interrupted")
		return true, nil
	}

	h.child.resetBuffer()
	h.child.buffer = append(h.child.buffer[:0], h.buffer[:h.size]...)
	h.child.size = h.size

	if _, err := h.child.writeBuffer(); err != nil {
		return true, err
	}
	return h.child.state == httpClosed, nil
}

// relayOut handles a readable event on the child token: upstream → client
// (spec §4.3 Relaying, "Event on child token").
func relayOut(h *Socks5Handler) (bool, error) {
	h.resetBuffer()

	h.child.clearBuffer()
	eof, err := h.child.readBuffer()
	if err != nil {
		h.log.WithError(err).Error("during HTTP client relay out")
		return true, err
	}
	if eof {
		h.log.Debug("HTTP client relay out interrupted")
		return true, nil
	}

	if h.child.size == 0 {
		return false, nil
	}

	h.buffer = append(h.buffer[:0], h.child.buffer[:h.child.size]...)
	h.size = h.child.size

	if _, err := h.writeStream(); err != nil {
		return true, err
	}
	return h.state == socksClosed, nil
}
