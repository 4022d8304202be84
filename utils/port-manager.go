package utils

import (
	"fmt"
	"net"
)

// IsPortAvailable reports whether a tcp4 listener can be bound on host:port.
func IsPortAvailable(host string, port int) bool {
	Verbose("Checking if port %d is available on %s", port, host)
	listener, err := net.ListenTCP("tcp4", &net.TCPAddr{IP: net.ParseIP(host), Port: port})
	if err != nil {
		Verbose("error: %v", err)
		return false
	}

	defer listener.Close()
	return true
}

// FindAvailablePort returns the first port in [start, end] that can be bound on host.
func FindAvailablePort(host string, start, end int) (int, error) {
	if start <= 0 || end < start || end > 65535 {
		return 0, fmt.Errorf("invalid port range %d-%d", start, end)
	}

	for port := start; port <= end; port++ {
		if IsPortAvailable(host, port) {
			return port, nil
		}
	}

	return 0, fmt.Errorf("no available port in range %d-%d on %s", start, end, host)
}
