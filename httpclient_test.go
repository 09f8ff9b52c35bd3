//go:build linux

package main

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func newTestHTTPClient() *HTTPClient {
	return newHTTPClient(ProxyEndpoint{}, Target{}, logrus.NewEntry(logrus.New()))
}

func TestHTTPClientExtractStatusCode(t *testing.T) {
	tests := []struct {
		name        string
		response    string
		expected    int
		expectedErr bool
	}{
		{
			name:     "200 OK",
			response: "HTTP/1.1 200 Connection Established\r\n\r\n",
			expected: 200,
		},
		{
			name:     "407 Proxy Authentication Required",
			response: "HTTP/1.1 407 Proxy Auth Required\r\n\r\n",
			expected: 407,
		},
		{
			name:        "truncated response",
			response:    "HTTP/1.1 2",
			expectedErr: true,
		},
		{
			name:        "non-numeric status",
			response:    "HTTP/1.1 abc Nope\r\n\r\n",
			expectedErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestHTTPClient()
			c.putBuffer([]byte(tt.response))

			status, err := c.extractStatusCode()
			if tt.expectedErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, status)
		})
	}
}

func TestHTTPClientStateStrings(t *testing.T) {
	tests := []struct {
		state    httpClientState
		expected string
	}{
		{httpConnectionRequest, "ConnectionRequest"},
		{httpConnectionEstablished, "ConnectionEstablished"},
		{httpRelayingOUT, "RelayingOUT"},
		{httpRelayingIN, "RelayingIN"},
		{httpClosed, "Closed"},
		{httpClientState(99), "Unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.state.String())
	}
}
