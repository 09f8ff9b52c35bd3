//go:build linux

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSocksSlabInsertGetRemove(t *testing.T) {
	s := newSocksSlab()
	a := &Socks5Handler{token: 1}
	b := &Socks5Handler{token: 2}

	keyA := s.insert(a)
	keyB := s.insert(b)
	assert.NotEqual(t, keyA, keyB)

	got, ok := s.get(keyA)
	assert.True(t, ok)
	assert.Same(t, a, got)

	s.remove(keyA)
	_, ok = s.get(keyA)
	assert.False(t, ok)

	// Removing again is a no-op.
	s.remove(keyA)

	got, ok = s.get(keyB)
	assert.True(t, ok)
	assert.Same(t, b, got)
}

func TestSocksSlabReusesFreedSlots(t *testing.T) {
	s := newSocksSlab()
	a := &Socks5Handler{token: 1}
	keyA := s.insert(a)
	s.remove(keyA)

	c := &Socks5Handler{token: 3}
	keyC := s.insert(c)
	assert.Equal(t, keyA, keyC)
}

func TestSocksSlabGetOutOfRange(t *testing.T) {
	s := newSocksSlab()
	_, ok := s.get(5)
	assert.False(t, ok)
	_, ok = s.get(-1)
	assert.False(t, ok)
}
