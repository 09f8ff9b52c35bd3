//go:build !linux

package main

import "github.com/sirupsen/logrus"

// Server is a non-Linux stub. The reactor core in this repo is epoll-based
// (reactor_linux.go) and has no kqueue/IOCP port; Start reports
// ErrUnsupportedPlatform immediately, the same way the teacher repo skips
// its Linux-only interface setup (and logs why) on other platforms.
type Server struct{}

func NewServer(listen, upstream *ProxyEndpoint, log *logrus.Entry) *Server {
	return &Server{}
}

func (s *Server) Start() error {
	return ErrUnsupportedPlatform
}
