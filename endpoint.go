package main

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// defaultPort returns the conventional port for a proxy scheme (spec §6).
func defaultPort(scheme string) (uint16, error) {
	switch scheme {
	case "http":
		return 80, nil
	case "socks", "socks5":
		return 1080, nil
	default:
		return 0, fmt.Errorf("unsupported proxy scheme %q (must be http, socks, or socks5)", scheme)
	}
}

// ParseEndpoint parses a proxy URL of the form scheme://[user[:pass]@]host[:port]
// into a ProxyEndpoint, resolving the host eagerly since endpoints are
// created once at startup and never re-resolved (spec §3). Grounded on
// WhileEndless-go-rawhttp's ParseProxyURL.
func ParseEndpoint(raw string) (*ProxyEndpoint, error) {
	if raw == "" {
		return nil, fmt.Errorf("proxy URL cannot be empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL %q: %w", raw, err)
	}

	var protocol ProxyProtocol
	switch u.Scheme {
	case "http":
		protocol = ProxyHTTP
	case "socks", "socks5":
		protocol = ProxySOCKS5
	case "":
		return nil, fmt.Errorf("proxy URL %q must include a scheme (http://, socks://, or socks5://)", raw)
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q (must be http, socks, or socks5)", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("proxy URL %q must include a host", raw)
	}

	var port uint16
	if portStr := u.Port(); portStr != "" {
		p, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("proxy URL %q: invalid port %q: %w", raw, portStr, err)
		}
		port = uint16(p)
	} else {
		port, err = defaultPort(u.Scheme)
		if err != nil {
			return nil, err
		}
	}

	var username, password string
	if u.User != nil {
		username = u.User.Username()
		password, _ = u.User.Password()
	}

	addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		return nil, fmt.Errorf("resolve proxy endpoint %q: %w", raw, err)
	}

	return &ProxyEndpoint{
		Protocol: protocol,
		Host:     host,
		Port:     port,
		Addr:     addr,
		Username: username,
		Password: password,
	}, nil
}
