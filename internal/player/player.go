// Package player drives continuous playback of remotely synthesized
// speech. It segments input text into units, keeps a bounded prefetch
// window of two synthesis turns in flight (current + next), converts
// arriving PCM chunks into scheduled sample buffers, and supports
// clean cancellation from another goroutine.
package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ykdojo/super-voice-assistant-sub000/internal/logger"
	"github.com/ykdojo/super-voice-assistant-sub000/internal/segment"
	"github.com/ykdojo/super-voice-assistant-sub000/internal/synth"
)

// Synthesizer is the slice of the audio source the player needs: one
// turn per text unit, streamed.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, unit int) *synth.Stream
}

// FailurePolicy decides what happens when one unit's synthesis fails
// mid-sequence.
type FailurePolicy int

const (
	// FailContinue reports the failure and advances to the next unit.
	// Audio already buffered for the failed unit still plays.
	FailContinue FailurePolicy = iota
	// FailAbort stops the whole sequence on the first unit failure.
	FailAbort
)

// UnitState is a per-unit playback state transition.
type UnitState int

const (
	UnitStarted UnitState = iota
	UnitCompleted
	UnitFailed
)

func (s UnitState) String() string {
	switch s {
	case UnitStarted:
		return "started"
	case UnitCompleted:
		return "completed"
	case UnitFailed:
		return "failed"
	}
	return "unknown"
}

// UnitEvent is delivered to the observer on every unit transition.
type UnitEvent struct {
	Unit  int
	Text  string
	State UnitState
	Err   error // set for UnitFailed
}

// Observer receives unit state transitions. May be nil. Called from
// the playback goroutine; keep it fast.
type Observer func(UnitEvent)

// Option configures a Player.
type Option func(*Player)

// WithGap sets the silence inserted between units. Zero disables the
// gap entirely.
func WithGap(d time.Duration) Option {
	return func(p *Player) { p.gap = d }
}

// WithPaceDelay sets the fixed delay after each scheduled buffer,
// keeping the output queue from being flooded.
func WithPaceDelay(d time.Duration) Option {
	return func(p *Player) { p.pace = d }
}

// WithMinWords sets the segmenter's minimum words per unit.
func WithMinWords(n int) Option {
	return func(p *Player) { p.minWords = n }
}

// WithObserver sets the per-unit progress callback.
func WithObserver(o Observer) Option {
	return func(p *Player) { p.observer = o }
}

// WithFailurePolicy sets the mid-sequence failure behavior.
func WithFailurePolicy(policy FailurePolicy) Option {
	return func(p *Player) { p.policy = policy }
}

// Player is the streaming playback driver. One playback session is
// active at a time; starting a new Speak stops the previous one.
type Player struct {
	source   Synthesizer
	sink     Sink
	log      *logger.Logger
	minWords int
	gap      time.Duration
	pace     time.Duration
	policy   FailurePolicy
	observer Observer

	mu     sync.Mutex
	cancel context.CancelFunc // active session, nil when idle
}

// New creates a player over the given source and sink.
func New(source Synthesizer, sink Sink, log *logger.Logger, opts ...Option) *Player {
	p := &Player{
		source:   source,
		sink:     sink,
		log:      log,
		minWords: segment.DefaultMinWords,
		gap:      120 * time.Millisecond,
		pace:     10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Speak segments text and plays it through the sink, prefetching one
// unit ahead of playback. It blocks until all units have played, an
// abort-worthy failure occurs, or Stop is called. Cancellation (Stop
// or ctx) returns nil: a deliberate stop is not an error.
func (p *Player) Speak(ctx context.Context, text string) error {
	units := segment.Split(text, p.minWords)
	if len(units) == 0 {
		return nil
	}

	ctx = p.begin(ctx)
	defer p.end()

	p.log.Info("player: speaking %d unit(s)", len(units))

	// Prime the window: current unit plus one ahead.
	current := p.source.Synthesize(ctx, units[0], 0)
	var next *synth.Stream
	if len(units) > 1 {
		next = p.source.Synthesize(ctx, units[1], 1)
	}

	started := false
	for i := 0; i < len(units); i++ {
		p.notify(UnitEvent{Unit: i, Text: units[i], State: UnitStarted})

		err := p.playUnit(ctx, current, &started)
		switch {
		case isCanceled(err):
			p.sink.Stop()
			discardStreams(current, next)
			p.log.Info("player: cancelled at unit %d", i)
			return nil
		case err != nil:
			p.notify(UnitEvent{Unit: i, Text: units[i], State: UnitFailed, Err: err})
			p.log.Error("player: unit %d failed: %v", i, err)
			discardStreams(current)

			// Without an initial connection there is no audio at all.
			var terr *synth.TransportError
			if i == 0 && !started && errors.As(err, &terr) {
				discardStreams(next)
				return fmt.Errorf("synthesis unavailable: %w", err)
			}
			if p.policy == FailAbort {
				p.sink.Stop()
				discardStreams(next)
				return fmt.Errorf("unit %d: %w", i, err)
			}
		default:
			p.notify(UnitEvent{Unit: i, Text: units[i], State: UnitCompleted})
		}

		// Inter-unit pause, skipped after the last unit.
		if i < len(units)-1 && p.gap > 0 && started {
			if err := p.schedule(ctx, Silence(p.gap, SampleRate)); err != nil {
				p.sink.Stop()
				discardStreams(next)
				if isCanceled(err) {
					return nil
				}
				return err
			}
		}

		// Promote the prefetched turn and refill the window.
		current = next
		next = nil
		if i+2 < len(units) {
			next = p.source.Synthesize(ctx, units[i+2], i+2)
		}
	}

	if started {
		p.sink.Drain()
	}
	p.log.Info("player: done")
	return nil
}

// Stop cancels the active playback session from any goroutine. No
// further buffers are scheduled, in-flight streams are abandoned, and
// the sink is stopped. A no-op when idle.
func (p *Player) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.sink.Stop()
}

// playUnit drains one unit's stream into the sink, converting each
// chunk to float samples. Returns the stream's terminal error, a sink
// error, or the cancellation cause.
func (p *Player) playUnit(ctx context.Context, st *synth.Stream, started *bool) error {
	if st == nil {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-st.Chunks():
			if !ok {
				return st.Result().Err
			}
			samples, err := DecodeSamples(c.PCM)
			if err != nil {
				// Buffer error: drop this chunk, keep the unit going.
				p.log.Warn("player: dropping chunk (unit=%d): %v", c.Unit, err)
				continue
			}
			if !*started {
				if err := p.sink.Start(); err != nil {
					return err
				}
				*started = true
			}
			if err := p.schedule(ctx, samples); err != nil {
				return err
			}
		}
	}
}

// schedule puts one buffer on the sink, honoring cancellation before
// the scheduling step and pacing after it. The pacing delay only
// sleeps this goroutine; network reception for prefetched units keeps
// running in the source's receive loop.
func (p *Player) schedule(ctx context.Context, samples []float32) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if err := p.sink.Schedule(samples); err != nil {
		// Scheduling failures are buffer errors: drop and carry on.
		p.log.Warn("player: schedule failed: %v", err)
		return nil
	}
	if p.pace > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.pace):
		}
	}
	return nil
}

// begin registers a new playback session, stopping any previous one.
func (p *Player) begin(parent context.Context) context.Context {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	p.cancel = cancel
	p.mu.Unlock()
	return ctx
}

func (p *Player) end() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()
}

func (p *Player) notify(ev UnitEvent) {
	if p.observer != nil {
		p.observer(ev)
	}
}

// discardStreams releases abandoned synthesis streams so their
// delivery goroutines can exit.
func discardStreams(streams ...*synth.Stream) {
	for _, st := range streams {
		if st != nil {
			st.Discard()
		}
	}
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
