package server

import (
	"errors"
	"fmt"
	"io"
	"net"
)

var (
	// ErrInvalidAddress means the address is not an IP literal.
	ErrInvalidAddress = errors.New("IP address string is invalid")
	// ErrAddressNotLocal means the address is neither loopback nor assigned to this host.
	ErrAddressNotLocal = errors.New("IP address does not exist on this host")
	// ErrInvalidParameter covers non-positive backlog or buffer sizes and bad ports.
	ErrInvalidParameter = errors.New("invalid listen parameter")
)

// ConfigError is returned by Listen when the requested endpoint is rejected
// before any socket is created.
type ConfigError struct {
	Address string
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%v: %q", e.Err, e.Address)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ProcessingError wraps failures while decoding, transforming or encoding a
// message. The connection is closed after one of these.
type ProcessingError struct {
	Stage string
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// isDisconnect reports whether err is an orderly shutdown or a transport
// fault. Neither is logged.
func isDisconnect(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
