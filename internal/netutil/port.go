// Package netutil picks the address chartd listens on.
package netutil

import (
	"errors"
	"fmt"
	"net"
)

var ErrNoAddr = errors.New("no available bind address")

// Listen opens the preferred address or, when autoFallback is set and the
// preferred one is taken, the first candidate that can be bound. The
// returned listener is already open so the choice cannot be lost to a race.
func Listen(preferred string, candidates []string, autoFallback bool) (net.Listener, error) {
	if preferred != "" {
		ln, err := net.Listen("tcp", preferred)
		if err == nil {
			return ln, nil
		}
		if !autoFallback {
			return nil, fmt.Errorf("preferred bind address in use: %s: %w", preferred, err)
		}
	}
	for _, addr := range candidates {
		if addr == preferred {
			continue
		}
		if ln, err := net.Listen("tcp", addr); err == nil {
			return ln, nil
		}
	}
	return nil, ErrNoAddr
}

// IsAddrAvailable reports whether addr can be listened on right now.
func IsAddrAvailable(addr string) (bool, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false, nil
	}
	if closeErr := ln.Close(); closeErr != nil {
		return false, closeErr
	}
	return true, nil
}
