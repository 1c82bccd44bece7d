//go:build linux

package server

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// listenTCP creates the listening socket by hand so the listen queue is
// exactly backlog instead of the runtime's somaxconn default.
func listenTCP(ip net.IP, port, backlog int) (net.Listener, error) {
	var (
		family int
		sa     unix.Sockaddr
	)
	if ip4 := ip.To4(); ip4 != nil {
		a4 := &unix.SockaddrInet4{Port: port}
		copy(a4.Addr[:], ip4)
		family, sa = unix.AF_INET, a4
	} else {
		a6 := &unix.SockaddrInet6{Port: port}
		copy(a6.Addr[:], ip.To16())
		family, sa = unix.AF_INET6, a6
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("setsockopt", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("bind", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("listen", err)
	}

	f := os.NewFile(uintptr(fd), fmt.Sprintf("tcp:%s", net.JoinHostPort(ip.String(), strconv.Itoa(port))))
	defer f.Close()
	return net.FileListener(f)
}
