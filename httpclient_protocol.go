//go:build linux

package main

import "fmt"

// httpConnectionRequestStep formats and sends the CONNECT line (spec
// §4.2). {host} is the target's original host string verbatim — the
// resolved IP never appears on the wire for a domain target. Writable
// interest is dropped once the line is fully written and re-armed only
// if the write itself reports it would block.
func httpConnectionRequestStep(c *HTTPClient, reactor Reactor) (bool, error) {
	c.log.Debug("HTTP client connection request")

	c.resetBuffer()
	msg := fmt.Sprintf(
		"CONNECT %s:%d HTTP/1.1\r\nProxy-Connection: keep-alive\r\nConnection: keep-alive\r\nHost: %s:%d\r\n\r\n",
		c.target.Domain, c.target.Port, c.target.Domain, c.target.Port,
	)
	c.putBuffer([]byte(msg))

	blocked, err := c.writeBuffer()
	c.state = httpConnectionEstablished
	if err != nil {
		return true, err
	}

	interest := Readable
	if blocked {
		interest |= Writable
	}
	if rerr := c.rearm(reactor, interest); rerr != nil {
		return true, rerr
	}
	return c.state == httpClosed, nil
}

// httpConnectionEstablishedStep reads the proxy's status line and
// validates the 200 (spec §4.2).
func httpConnectionEstablishedStep(c *HTTPClient) (bool, error) {
	c.log.Debug("HTTP client connection response")

	c.clearBuffer()
	eof, err := c.readBuffer()
	if err != nil {
		c.log.WithError(err).Error("HTTP client connection response failed")
		return true, err
	}
	if eof {
		c.log.Debug("HTTP client connection response interrupted")
		return true, nil
	}

	if c.size == 0 {
		return true, nil
	}

	status, err := c.extractStatusCode()
	if err != nil {
		c.log.WithError(err).Error("HTTP client got unexpected response")
		return true, err
	}
	if status != 200 {
		c.log.WithField("status", status).Error("HTTP client received non-200 response")
		return true, nil
	}

	c.log.Debug("HTTP client tunnel established")
	c.state = httpRelayingOUT
	return false, nil
}

// httpRelayOutStep sends a previously-copied payload to the upstream
// socket. Reachable only through HTTPClient.handle; the live relay path
// (spec §4.3 Relaying) calls writeBuffer directly from the SOCKS5 handler
// instead, same as the source this was ported from.
func httpRelayOutStep(c *HTTPClient) (bool, error) {
	if c.size == 0 {
		return true, nil
	}
	c.state = httpRelayingIN
	_, err := c.writeBuffer()
	if err != nil {
		return true, err
	}
	return c.state == httpClosed, nil
}
