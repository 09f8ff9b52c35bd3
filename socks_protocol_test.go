//go:build linux

package main

import (
	"encoding/binary"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// socketpair returns two connected, non-blocking loopback fds for driving
// Socks5Handler/HTTPClient against a real kernel socket without touching
// the network (spec tests are grounded against an in-process loopback
// pair, SPEC_FULL §A.5).
func socketpair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func newTestHandler(fd int) *Socks5Handler {
	return newSocks5Handler(1, fd, nil, ProxyEndpoint{}, logrus.NewEntry(logrus.New()))
}

// registeredReactor returns a Reactor with fd already added under token,
// matching what Server.acceptAll does before a handler's first step runs
// — needed by any test that exercises a step function's rearm call.
func registeredReactor(t *testing.T, fd int, token Token) Reactor {
	t.Helper()
	reactor, err := NewReactor()
	require.NoError(t, err)
	t.Cleanup(func() { reactor.Close() })
	require.NoError(t, reactor.Register(fd, token, Readable|Writable))
	return reactor
}

func TestMethodRequestStep(t *testing.T) {
	tests := []struct {
		name        string
		request     []byte
		expectState Socks5State
		expectDone  bool
	}{
		{
			name:        "no-auth offered",
			request:     []byte{0x05, 0x01, 0x00},
			expectState: socksMethodResponse,
		},
		{
			name:        "no-auth among multiple methods",
			request:     []byte{0x05, 0x02, 0x01, 0x00},
			expectState: socksMethodResponse,
		},
		{
			name:        "no acceptable method",
			request:     []byte{0x05, 0x01, 0x02},
			expectState: socksClosed,
			expectDone:  true,
		},
		{
			name:        "wrong version",
			request:     []byte{0x04, 0x01, 0x00},
			expectState: socksClosed,
			expectDone:  true,
		},
		{
			name:        "truncated",
			request:     []byte{0x05},
			expectState: socksClosed,
			expectDone:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local, remote := socketpair(t)
			_, err := unix.Write(remote, tt.request)
			require.NoError(t, err)

			h := newTestHandler(local)
			done, err := methodRequestStep(h)
			assert.NoError(t, err)
			assert.Equal(t, tt.expectDone, done)
			assert.Equal(t, tt.expectState, h.state)
		})
	}
}

func TestConnectionRequestStepIPv4(t *testing.T) {
	local, remote := socketpair(t)
	req := []byte{0x05, 0x01, 0x00, 0x01, 93, 184, 216, 34, 0x00, 0x50}
	_, err := unix.Write(remote, req)
	require.NoError(t, err)

	h := newTestHandler(local)
	done, err := connectionRequestStep(h)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, socksClientConnectionRequest, h.state)
	assert.Equal(t, "93.184.216.34", h.target.IP)
	assert.Equal(t, uint16(80), h.target.Port)
	assert.Equal(t, "93.184.216.34", h.target.Domain)
}

func TestConnectionRequestStepUnsupportedCommand(t *testing.T) {
	local, remote := socketpair(t)
	// BIND instead of CONNECT.
	req := []byte{0x05, 0x02, 0x00, 0x01, 127, 0, 0, 1, 0x00, 0x50}
	_, err := unix.Write(remote, req)
	require.NoError(t, err)

	h := newTestHandler(local)
	done, err := connectionRequestStep(h)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, socksClosed, h.state)
}

func TestConnectionRequestStepTruncatedHeader(t *testing.T) {
	local, remote := socketpair(t)
	_, err := unix.Write(remote, []byte{0x05, 0x01})
	require.NoError(t, err)

	h := newTestHandler(local)
	done, err := connectionRequestStep(h)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, socksClosed, h.state)
}

func TestMethodResponseStep(t *testing.T) {
	local, remote := socketpair(t)
	h := newTestHandler(local)
	h.state = socksMethodResponse
	reactor := registeredReactor(t, local, h.token)

	done, err := methodResponseStep(h, reactor)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, socksConnectionRequest, h.state)

	got := make([]byte, 2)
	n, err := unix.Read(remote, got)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x05, 0x00}, got[:n])
	assert.Equal(t, Readable, h.interest, "Writable interest must drop once the reply is fully written")
}

func TestConnectionResponseStep(t *testing.T) {
	local, remote := socketpair(t)
	h := newTestHandler(local)
	h.state = socksConnectionResponse
	reactor := registeredReactor(t, local, h.token)

	done, err := connectionResponseStep(h, reactor)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, socksRelaying, h.state)

	got := make([]byte, 10)
	n, err := unix.Read(remote, got)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, byte(0x05), got[0])
	assert.Equal(t, byte(0x00), got[1])
	assert.Equal(t, uint16(0), binary.BigEndian.Uint16(got[8:10]))
	assert.Equal(t, Readable, h.interest, "Writable interest must drop once the reply is fully written")
}
