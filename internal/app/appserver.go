package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"transform_nexus/internal/core/server"
	"transform_nexus/internal/core/transform"
	"transform_nexus/internal/errorlog"
	"transform_nexus/internal/shared/codec"
	"transform_nexus/internal/shared/config"
	"transform_nexus/internal/shared/globalstate"
	"transform_nexus/internal/shared/logger"
	"transform_nexus/internal/shared/types"
)

// ErrOpenFailed is returned by Run when the server could not be opened.
var ErrOpenFailed = errors.New("tcp server failed to open")

const shutdownTimeout = 5 * time.Second

// AppServer is the application's main struct. It owns the error log writer
// for the whole process and the TCP server built on top of it.
type AppServer struct {
	cfg *types.Config

	server   *server.Server
	recorder *transform.Recorder
	errLog   *errorlog.Writer

	stopOnce sync.Once
}

// New wires the configured transform, error log and notifier into a server.
// Nothing is opened until Run or Open.
func New(cfg *types.Config) (*AppServer, error) {
	wire, err := codec.New(cfg.ServerConf.Encoding)
	if err != nil {
		return nil, err
	}
	fn, err := transform.Lookup(cfg.ServerConf.Transform)
	if err != nil {
		return nil, err
	}

	s := &AppServer{
		cfg:      cfg,
		recorder: transform.NewRecorder(fn),
	}

	opts := []server.Option{server.WithCodec(wire)}
	if cfg.ErrorLogConf.Enabled {
		s.errLog = errorlog.New(
			config.ErrorLogPath(cfg),
			errorlog.WithCodec(wire),
			errorlog.WithRetryInterval(time.Duration(cfg.ErrorLogConf.RetryInterval)*time.Millisecond),
		)
		if err := s.errLog.Start(); err != nil {
			return nil, fmt.Errorf("failed to start error log: %w", err)
		}
		opts = append(opts, server.WithErrorLog(s.errLog))
	}
	if cfg.NotifyConf.Enabled {
		opts = append(opts, server.WithNotifier(notify))
	}

	s.server = server.New(s.recorder.Apply, opts...)
	globalstate.GlobalStatus.Set("Closed")
	return s, nil
}

// notify stands in for a pop-up: notifications go to the console log.
func notify(title, message string) {
	l := logger.WithComponent("Notify")
	l.Warn().Str("title", title).Msg(message)
}

// Open opens the server with the configured endpoint.
func (s *AppServer) Open() error {
	c := s.cfg.ServerConf
	if err := s.server.Listen(c.Address, c.Port, c.Backlog, c.BufferSize); err != nil {
		globalstate.GlobalStatus.Set("Open failed: " + err.Error())
		return fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}
	globalstate.GlobalStatus.Set("Listening on " + s.server.Addr().String())
	return nil
}

// Close closes the server but keeps the error log running.
func (s *AppServer) Close() {
	s.server.Close()
	globalstate.GlobalStatus.Set("Closed")
}

// Run opens the server and blocks until ctx is done, then stops everything.
func (s *AppServer) Run(ctx context.Context) error {
	logger.Info().Str("transform", s.cfg.ServerConf.Transform).Msg("Starting TCP server...")
	if err := s.Open(); err != nil {
		s.Stop()
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// Stop closes the server and drains the error log. Safe to call repeatedly.
func (s *AppServer) Stop() {
	s.stopOnce.Do(func() {
		s.Close()
		if s.errLog != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := s.errLog.Shutdown(ctx); err != nil {
				logger.Warn().Err(err).Msg("Error log did not drain before shutdown.")
			}
		}
		last, count := s.recorder.Last()
		logger.Info().
			Int("messages", int(count)).
			Str("last_message", last).
			Msg("Server stopped.")
	})
}

// Server exposes the underlying TCP server.
func (s *AppServer) Server() *server.Server { return s.server }

// LastMessage returns the most recently received text and the message count.
func (s *AppServer) LastMessage() (string, uint64) { return s.recorder.Last() }

// Status returns the current human-readable state.
func (s *AppServer) Status() string { return globalstate.GlobalStatus.Get() }
