package server

import (
	"context"
	"errors"
	"fmt"
	"net"

	"golang.org/x/sync/semaphore"
)

// validateAddress parses address and checks that it belongs to this host.
// Loopback addresses are always accepted.
func (s *Server) validateAddress(address string) (net.IP, error) {
	ip := net.ParseIP(address)
	if ip == nil {
		return nil, &ConfigError{Address: address, Err: ErrInvalidAddress}
	}
	if ip.IsLoopback() {
		return ip, nil
	}
	addrs, err := s.hostAddrs()
	if err != nil {
		return nil, &ConfigError{Address: address, Err: fmt.Errorf("%w: %v", ErrAddressNotLocal, err)}
	}
	for _, a := range addrs {
		if a.Equal(ip) {
			return ip, nil
		}
	}
	return nil, &ConfigError{Address: address, Err: ErrAddressNotLocal}
}

func interfaceAddrs() ([]net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		switch v := a.(type) {
		case *net.IPNet:
			ips = append(ips, v.IP)
		case *net.IPAddr:
			ips = append(ips, v.IP)
		}
	}
	return ips, nil
}

// acceptLoop runs until ln is closed. sem holds one slot per connection that
// has been accepted but not yet registered, so at most backlog admissions are
// in flight.
func (s *Server) acceptLoop(ln net.Listener, sem *semaphore.Weighted, bufferSize int) {
	defer s.acceptWG.Done()
	ctx := context.Background()
	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			s.report("accept", err)
			return
		}
		conn, err := ln.Accept()
		if err != nil {
			sem.Release(1)
			if errors.Is(err, net.ErrClosed) {
				s.log.Debug().Msg("Listener closed, accept loop exiting.")
				return
			}
			s.report("accept", err)
			continue
		}
		s.acceptWG.Add(1)
		go s.admit(conn, sem, bufferSize)
	}
}

// admit registers the connection before giving the slot back, then runs the
// connection's cycle on the same goroutine.
func (s *Server) admit(nc net.Conn, sem *semaphore.Weighted, bufferSize int) {
	c := newConnection(nc, bufferSize)
	s.clients.Add(c)
	s.connWG.Add(1)
	sem.Release(1)
	s.acceptWG.Done()

	defer s.connWG.Done()
	s.serve(c)
}
