package synth

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/ykdojo/super-voice-assistant-sub000/internal/logger"
)

// Session is the reusable transport connection plus its one-time
// handshake state. It is opened lazily, reused across turns, and
// closed explicitly by its owner (the Source). The configuration
// message is sent exactly once per connection lifetime and must be
// acknowledged before the first turn goes out.
type Session struct {
	id    string
	dial  Dialer
	model string
	voice string
	log   *logger.Logger

	tr         Transport
	configured bool
}

func newSession(dial Dialer, model, voice string, log *logger.Logger) *Session {
	return &Session{
		id:    uuid.NewString(),
		dial:  dial,
		model: model,
		voice: voice,
		log:   log,
	}
}

// ID returns the session's correlation id.
func (s *Session) ID() string { return s.id }

// open dials the transport and performs the configuration handshake.
// Idempotent; a failed open leaves the session closed so the next call
// retries from scratch. Not safe for concurrent use — the Source
// serializes access.
func (s *Session) open(ctx context.Context) error {
	if s.tr != nil && s.configured {
		return nil
	}

	if s.tr == nil {
		tr, err := s.dial(ctx)
		if err != nil {
			return &TransportError{Op: "dial", Err: err}
		}
		s.tr = tr
		s.log.Debug("synth: session %s connected", shortID(s.id))
	}

	if !s.configured {
		if err := s.configure(ctx); err != nil {
			s.teardown()
			return err
		}
	}
	return nil
}

// configure sends the setup message and waits for the acknowledgement
// frame. Runs before the receive loop starts, so it owns the reader.
func (s *Session) configure(ctx context.Context) error {
	msg, err := encodeSetup(s.model, s.voice)
	if err != nil {
		return &TransportError{Op: "setup", Err: err}
	}
	if err := s.tr.Send(ctx, msg); err != nil {
		return &TransportError{Op: "setup", Err: err}
	}

	// Drain frames until the setup acknowledgement arrives. Anything
	// else at this stage is noise.
	for {
		frame, err := s.tr.Receive(ctx)
		if err != nil {
			return &TransportError{Op: "setup", Err: fmt.Errorf("awaiting ack: %w", err)}
		}
		env, perr := parseEnvelope(frame.Data)
		if perr != nil {
			s.log.Warn("synth: %v", perr)
			continue
		}
		if env.setupDone() {
			break
		}
	}

	s.configured = true
	s.log.Debug("synth: session %s configured (model=%s voice=%s)", shortID(s.id), s.model, s.voice)
	return nil
}

// sendTurn issues one turn request for the given unit text.
func (s *Session) sendTurn(ctx context.Context, text string) error {
	if s.tr == nil || !s.configured {
		return &TransportError{Op: "send", Err: fmt.Errorf("session not open")}
	}
	msg, err := encodeTurn(text)
	if err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	if err := s.tr.Send(ctx, msg); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	return nil
}

// receive reads the next inbound frame. A torn-down session reads as
// end-of-stream rather than dereferencing a gone transport.
func (s *Session) receive(ctx context.Context) (Frame, error) {
	tr := s.tr
	if tr == nil {
		return Frame{}, io.EOF
	}
	return tr.Receive(ctx)
}

// teardown closes the transport and resets the handshake state, so a
// later open starts a fresh connection.
func (s *Session) teardown() {
	if s.tr != nil {
		s.tr.Close()
		s.tr = nil
	}
	s.configured = false
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
