//go:build !linux

package server

import (
	"context"
	"net"
	"strconv"
)

// listenTCP falls back to the runtime listener; the listen queue length is
// chosen by the platform and backlog only bounds concurrent admissions.
func listenTCP(ip net.IP, port, _ int) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(context.Background(), "tcp", net.JoinHostPort(ip.String(), strconv.Itoa(port)))
}
