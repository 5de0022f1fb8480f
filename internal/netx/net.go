// Package netx holds small network address helpers.
package netx

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrNotLoopback is returned for addresses that would expose the bridge
// beyond the local machine.
var ErrNotLoopback = errors.New("address is not a loopback address")

// CheckLoopback verifies that addr is host:port with a loopback host.
// "localhost" is accepted; an empty host (all interfaces) is not.
func CheckLoopback(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	if strings.EqualFold(host, "localhost") {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("%q: %w", addr, ErrNotLoopback)
	}
	return nil
}
