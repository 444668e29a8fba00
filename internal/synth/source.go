// Package synth streams synthesized speech from a remote bidirectional
// synthesis service. One Source owns one reusable Session (connection +
// handshake); each Synthesize call is a turn that yields an ordered,
// lazy stream of PCM chunks ending in a terminal result.
package synth

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/ykdojo/super-voice-assistant-sub000/internal/logger"
)

// Defaults for the remote synthesis session.
const (
	DefaultModel = "models/gemini-2.0-flash-live-001"
	DefaultVoice = "Aoede"
)

// Option configures a Source.
type Option func(*Source)

// WithModel sets the remote model identity declared in the setup
// message.
func WithModel(model string) Option {
	return func(s *Source) { s.model = model }
}

// WithVoice sets the voice identity declared in the setup message.
func WithVoice(voice string) Option {
	return func(s *Source) { s.voice = voice }
}

// Source produces per-unit audio chunk streams over one shared
// connection. Turn requests are issued strictly in call order; a single
// receive loop owns the socket reader and routes inbound frames to the
// oldest incomplete turn, so responses for an earlier turn keep
// draining while a later turn's request is sent.
type Source struct {
	dial  Dialer
	log   *logger.Logger
	model string
	voice string
	cache *Cache

	mu         sync.Mutex // session lifecycle + turn issuance order
	session    *Session
	loopCancel context.CancelFunc
	loopDone   chan struct{}

	pendMu  sync.Mutex
	pending []*Stream // incomplete turns, oldest first
}

// New creates a Source that dials the synthesis service with dial.
func New(dial Dialer, log *logger.Logger, opts ...Option) *Source {
	s := &Source{
		dial:  dial,
		log:   log,
		model: DefaultModel,
		voice: DefaultVoice,
	}
	for _, opt := range opts {
		opt(s)
	}
	// Built after options so the cache keys on the final voice.
	s.cache = NewCache(s.voice, log)
	return s
}

// Open establishes the connection and performs the configuration
// handshake if that hasn't happened yet. Idempotent; a failed open can
// simply be retried. Synthesize calls Open implicitly.
func (s *Source) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureOpenLocked(ctx)
}

// Close tears down the connection. Outstanding streams fail with a
// TransportError; a later Synthesize or Open starts over with a fresh
// connection and handshake.
func (s *Source) Close() error {
	s.mu.Lock()
	cancel := s.loopCancel
	done := s.loopDone
	sess := s.session
	s.loopCancel, s.loopDone, s.session = nil, nil, nil
	s.mu.Unlock()

	// The loop may be inside a blocking Receive; cancel unblocks it.
	// Tear the transport down only after the loop has exited so the
	// two never touch it concurrently.
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	if sess != nil {
		sess.teardown()
	}
	s.failPending(&TransportError{Op: "receive", Err: fmt.Errorf("session closed")})
	return nil
}

// Cache returns the in-memory audio cache backing SynthesizeAll.
func (s *Source) Cache() *Cache { return s.cache }

// Synthesize requests audio for one text unit and returns its chunk
// stream immediately. The stream terminates with a failed Result if
// the connection cannot be opened or the turn cannot be sent; both are
// reported there rather than panicking mid-playback.
//
// Callers may issue a new turn while an earlier stream is still
// draining — this is how prefetch works. Requests go out strictly in
// call order.
func (s *Source) Synthesize(ctx context.Context, text string, unit int) *Stream {
	st := NewStream(unit)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.openSessionLocked(ctx); err != nil {
		st.Finish(err)
		return st
	}

	// Enqueue before sending (and before the receive loop starts) so
	// the loop can never see a response with no owner.
	s.pushPending(st)
	if err := s.session.sendTurn(ctx, text); err != nil {
		s.removePending(st)
		st.Finish(err)
		return st
	}
	s.startLoopLocked()
	s.log.Debug("synth: turn sent (unit=%d, %d chars)", unit, len(text))
	return st
}

// SynthesizeAll drains a full turn for text and returns the
// concatenated raw PCM. Results are cached in memory, keyed by voice,
// so repeated phrases skip the network. This is the non-streaming
// convenience path used by the WAV tooling, not the playback core.
func (s *Source) SynthesizeAll(ctx context.Context, text string) ([]byte, error) {
	if pcm, ok := s.cache.Get(text); ok {
		return pcm, nil
	}

	st := s.Synthesize(ctx, text, 0)
	var buf bytes.Buffer
	for {
		select {
		case <-ctx.Done():
			st.Discard()
			return nil, ctx.Err()
		case c, ok := <-st.Chunks():
			if !ok {
				if res := st.Result(); res.Err != nil {
					return nil, res.Err
				}
				pcm := buf.Bytes()
				s.cache.Put(text, pcm)
				return pcm, nil
			}
			buf.Write(c.PCM)
		}
	}
}

// ensureOpenLocked opens the session lazily and starts the receive
// loop. Caller holds s.mu.
func (s *Source) ensureOpenLocked(ctx context.Context) error {
	if err := s.openSessionLocked(ctx); err != nil {
		return err
	}
	s.startLoopLocked()
	return nil
}

// openSessionLocked dials and performs the handshake without starting
// the receive loop. Caller holds s.mu.
func (s *Source) openSessionLocked(ctx context.Context) error {
	if s.session == nil {
		s.session = newSession(s.dial, s.model, s.voice, s.log)
	}
	if err := s.session.open(ctx); err != nil {
		s.session = nil
		return err
	}
	return nil
}

// startLoopLocked launches the receive loop if it isn't running.
// Caller holds s.mu.
func (s *Source) startLoopLocked() {
	if s.loopDone != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.loopCancel = cancel
	s.loopDone = done
	go s.receiveLoop(loopCtx, s.session, done)
}

// receiveLoop owns the connection's reader. It routes every inbound
// frame to the oldest incomplete turn and exits on the first transport
// error, failing whatever turns are still pending.
func (s *Source) receiveLoop(ctx context.Context, sess *Session, done chan struct{}) {
	defer close(done)
	for {
		frame, err := sess.receive(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn("synth: receive loop ended: %v", err)
			}
			s.failPending(&TransportError{Op: "receive", Err: err})
			s.mu.Lock()
			if s.session == sess {
				sess.teardown()
				s.session = nil
				s.loopCancel = nil
				s.loopDone = nil
			}
			s.mu.Unlock()
			return
		}
		s.handleFrame(frame)
	}
}

// handleFrame dispatches one inbound frame. Malformed frames are
// skipped, never fatal.
func (s *Source) handleFrame(frame Frame) {
	env, err := parseEnvelope(frame.Data)
	if err != nil {
		// Informational text frames aren't always JSON; binary frames
		// should be.
		if frame.Kind == FrameBinary {
			s.log.Warn("synth: %v", err)
		} else {
			s.log.Debug("synth: ignoring text frame: %v", err)
		}
		return
	}

	if frame.Kind == FrameBinary {
		for _, pcm := range env.audioData() {
			front := s.front()
			if front == nil {
				s.log.Warn("synth: audio frame with no pending turn")
				break
			}
			if !front.Push(Chunk{Unit: front.Unit(), PCM: pcm}) {
				s.log.Debug("synth: chunk after turn end (unit=%d)", front.Unit())
			}
		}
	}

	// The completion flag may ride on either frame kind.
	if env.turnDone() {
		if front := s.popFront(); front != nil {
			front.Finish(nil)
			s.log.Debug("synth: turn complete (unit=%d)", front.Unit())
		}
	}
}

// ── pending turn FIFO ────────────────────────────────────────────

func (s *Source) pushPending(st *Stream) {
	s.pendMu.Lock()
	s.pending = append(s.pending, st)
	s.pendMu.Unlock()
}

func (s *Source) removePending(st *Stream) {
	s.pendMu.Lock()
	defer s.pendMu.Unlock()
	for i, p := range s.pending {
		if p == st {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

func (s *Source) front() *Stream {
	s.pendMu.Lock()
	defer s.pendMu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	return s.pending[0]
}

func (s *Source) popFront() *Stream {
	s.pendMu.Lock()
	defer s.pendMu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	front := s.pending[0]
	s.pending = s.pending[1:]
	return front
}

func (s *Source) failPending(err error) {
	s.pendMu.Lock()
	pending := s.pending
	s.pending = nil
	s.pendMu.Unlock()
	for _, st := range pending {
		st.Finish(err)
	}
}
