//go:build linux

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestEpollReactorReportsReadable(t *testing.T) {
	local, remote := socketpair(t)

	reactor, err := NewReactor()
	require.NoError(t, err)
	defer reactor.Close()

	require.NoError(t, reactor.Register(local, Token(42), Readable))

	_, err = unix.Write(remote, []byte("hello"))
	require.NoError(t, err)

	events, err := reactor.Poll(make([]Event, 0, 8), 1000)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, Token(42), events[0].Token)
	assert.True(t, events[0].Readable)
}

func TestEpollReactorDeregisterIsIdempotent(t *testing.T) {
	local, _ := socketpair(t)

	reactor, err := NewReactor()
	require.NoError(t, err)
	defer reactor.Close()

	require.NoError(t, reactor.Register(local, Token(1), Readable))
	require.NoError(t, reactor.Deregister(local))
	assert.NoError(t, reactor.Deregister(local))
}
