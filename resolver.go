package main

import (
	"context"
	"fmt"
	"net"
	"time"
)

// resolveHost is the "resolve hostname → IP" collaborator spec §1/§5 treats
// as opaque and out of scope for the core: a single synchronous lookup
// returning the first A/AAAA record, using the standard library resolver.
// It blocks the calling goroutine — and, because resolution happens inline
// inside the reactor's single thread (spec §5), the whole reactor — for the
// duration of the lookup. A production build would move this off the
// reactor thread; this spec does not mandate it.
func resolveHost(domain string) (net.IP, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", domain, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("resolve %q: no address records", domain)
	}
	return addrs[0].IP, nil
}
