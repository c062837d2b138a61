// Package network holds socket helpers shared by the circuit and the API.
package network

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

// ListenUDP opens the local end of a circuit. An empty address or port 0
// binds an ephemeral port.
func ListenUDP(ctx context.Context, addr string) (*net.UDPConn, error) {
	if addr == "" {
		addr = "0.0.0.0:0"
	}
	lc := ReuseAddrListenConfig()
	pc, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind UDP socket on %s: %w", addr, err)
	}
	return pc.(*net.UDPConn), nil
}

// ResolveSim validates a simulator ip and port as handed out by login.
func ResolveSim(ip string, port int) (*net.UDPAddr, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.To4() == nil {
		return nil, fmt.Errorf("invalid simulator ip %q", ip)
	}
	if parsed.IsUnspecified() {
		return nil, fmt.Errorf("unspecified simulator ip %q", ip)
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid simulator port %d", port)
	}
	return &net.UDPAddr{IP: parsed.To4(), Port: port}, nil
}

// JoinHostPort formats a bind address from config values.
func JoinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
