//go:build !linux

package main

// NewReactor reports ErrUnsupportedPlatform outside Linux. The core of
// this repo is an epoll-backed reactor (see reactor_linux.go); porting it
// to kqueue/IOCP is tracked as future work, same as the teacher repo only
// runs its Linux-only interface setup under runtime.GOOS == "linux" and
// logs a skip message elsewhere.
func NewReactor() (Reactor, error) {
	return nil, ErrUnsupportedPlatform
}
