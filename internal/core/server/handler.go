package server

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// serve runs receive → transform → send until the client goes away or a
// message cannot be processed. Exactly one step is in progress at a time.
func (s *Server) serve(c *Connection) {
	l := s.log.With().Str("conn_id", c.ID()).Str("remote_addr", c.RemoteAddr().String()).Logger()
	l.Debug().Msg("Client connected.")
	defer s.release(c, l)

	for {
		text, err := s.receive(c)
		if err != nil {
			s.endCycle("receive", err, l)
			return
		}

		reply, err := s.apply(text)
		if err != nil {
			s.endCycle("transform", err, l)
			return
		}

		if err := s.send(c, reply); err != nil {
			s.endCycle("send", err, l)
			return
		}
	}
}

func (s *Server) receive(c *Connection) (string, error) {
	for {
		n, err := c.conn.Read(c.buffer)
		if n > 0 {
			text, decErr := s.codec.Decode(c.buffer[:n])
			if decErr != nil {
				return "", &ProcessingError{Stage: "decode", Err: decErr}
			}
			return text, nil
		}
		if err != nil {
			return "", err
		}
	}
}

func (s *Server) apply(text string) (reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ProcessingError{Stage: "transform", Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return s.transform(text), nil
}

func (s *Server) send(c *Connection, reply string) error {
	_, err := c.conn.Write(s.codec.EncodeLossy(reply))
	return err
}

// endCycle classifies the error that stopped the loop. Disconnects are
// routine; everything else is reported.
func (s *Server) endCycle(stage string, err error, l zerolog.Logger) {
	var procErr *ProcessingError
	if !errors.As(err, &procErr) && isDisconnect(err) {
		l.Debug().Err(err).Str("stage", stage).Msg("Client disconnected.")
		return
	}
	s.report(stage, err)
}

func (s *Server) release(c *Connection, l zerolog.Logger) {
	_ = c.Close()
	removed := s.clients.Remove(c)
	received, sent := c.Stats()
	l.Debug().
		Bool("deregistered", removed).
		Uint64("bytes_received", received).
		Uint64("bytes_sent", sent).
		Msg("Client closed.")
}
