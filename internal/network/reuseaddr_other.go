//go:build !linux && !windows

package network

import "net"

// ReuseAddrListenConfig returns a plain net.ListenConfig on platforms
// without a SO_REUSEADDR override.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
