//go:build linux

package main

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestHTTPClientOnFD(fd int, target Target) *HTTPClient {
	c := newHTTPClient(ProxyEndpoint{}, target, logrus.NewEntry(logrus.New()))
	c.fd = fd
	c.hasFD = true
	c.token = 1
	c.interest = Readable | Writable
	return c
}

func TestHTTPConnectionRequestStep(t *testing.T) {
	local, remote := socketpair(t)
	target := Target{Domain: "example.com", Port: 443}
	c := newTestHTTPClientOnFD(local, target)
	reactor := registeredReactor(t, local, c.token)

	done, err := httpConnectionRequestStep(c, reactor)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, httpConnectionEstablished, c.state)
	assert.Equal(t, Readable, c.interest, "Writable interest must drop once the CONNECT line is fully written")

	buf := make([]byte, 256)
	n, err := unix.Read(remote, buf)
	require.NoError(t, err)
	expected := "CONNECT example.com:443 HTTP/1.1\r\n" +
		"Proxy-Connection: keep-alive\r\n" +
		"Connection: keep-alive\r\n" +
		"Host: example.com:443\r\n\r\n"
	assert.Equal(t, expected, string(buf[:n]))
}

func TestHTTPConnectionEstablishedStep(t *testing.T) {
	tests := []struct {
		name       string
		response   string
		expectDone bool
		expectErr  bool
	}{
		{
			name:     "200 established",
			response: "HTTP/1.1 200 Connection Established\r\n\r\n",
		},
		{
			name:       "403 forbidden",
			response:   "HTTP/1.1 403 Forbidden\r\n\r\n",
			expectDone: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local, remote := socketpair(t)
			_, err := unix.Write(remote, []byte(tt.response))
			require.NoError(t, err)

			c := newTestHTTPClientOnFD(local, Target{})
			done, err := httpConnectionEstablishedStep(c)
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectDone, done)
			if !tt.expectDone {
				assert.Equal(t, httpRelayingOUT, c.state)
			}
		})
	}
}
