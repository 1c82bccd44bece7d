package server

import (
	"net"

	"transform_nexus/internal/errorlog"
	"transform_nexus/internal/shared/codec"
)

// TransformFunc maps a received message to the reply. It runs on the
// connection's goroutine, so a transform that never returns blocks Close.
type TransformFunc func(string) string

// NotifyFunc receives user-facing error notifications.
type NotifyFunc func(title, message string)

// Option customizes a Server.
type Option func(*Server)

// WithErrorLog enables recording errors to w. A nil writer disables it.
func WithErrorLog(w *errorlog.Writer) Option {
	return func(s *Server) {
		s.errLog = w
	}
}

// WithNotifier enables error notifications.
func WithNotifier(fn NotifyFunc) Option {
	return func(s *Server) {
		s.notify = fn
	}
}

// WithCodec sets the wire code page.
func WithCodec(c *codec.Codec) Option {
	return func(s *Server) {
		if c != nil {
			s.codec = c
		}
	}
}

// WithHostAddrs replaces the lookup of this host's addresses.
func WithHostAddrs(fn func() ([]net.IP, error)) Option {
	return func(s *Server) {
		if fn != nil {
			s.hostAddrs = fn
		}
	}
}
