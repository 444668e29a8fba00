package synth

import (
	"context"
	"sync"
)

// Chunk is one slice of raw audio for a text unit: little-endian
// 16-bit signed PCM, mono, tagged with the owning unit's index.
type Chunk struct {
	Unit int
	PCM  []byte
}

// Result is the terminal marker of a Stream. A nil Err means the turn
// completed normally.
type Result struct {
	Unit int
	Err  error
}

// Stream is the lazy, finite, non-restartable chunk sequence for one
// synthesis turn: zero or more Chunks followed by exactly one Result.
// Read chunks from Chunks() until it closes, then call Result().
//
// Chunks queue without bound between the producer and the consumer, so
// the receive loop never blocks on (and never drops audio for) a paced
// player. A consumer that stops reading early must call Discard so the
// delivery goroutine can exit; reading to the end makes that
// unnecessary. Producer and consumer sides are safe to use from
// different goroutines.
type Stream struct {
	unit   int
	chunks chan Chunk
	done   chan struct{}
	gone   chan struct{}

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []Chunk
	finished  bool
	discarded bool
	result    Result
}

// NewStream creates a stream for the given unit index. Exposed so
// alternative Synthesizer implementations (and test fakes) can produce
// streams the player consumes.
func NewStream(unit int) *Stream {
	st := &Stream{
		unit:   unit,
		chunks: make(chan Chunk),
		done:   make(chan struct{}),
		gone:   make(chan struct{}),
	}
	st.cond = sync.NewCond(&st.mu)
	go st.deliver()
	return st
}

// Unit returns the text-unit index this stream belongs to.
func (s *Stream) Unit() int { return s.unit }

// Chunks returns the ordered chunk channel. Chunks queued before the
// terminal result are still delivered before it closes, so audio
// received ahead of a failure reaches the consumer.
func (s *Stream) Chunks() <-chan Chunk { return s.chunks }

// Done is closed once the terminal result is available.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Result returns the terminal marker. It blocks until the stream has
// finished or been discarded.
func (s *Stream) Result() Result {
	<-s.done
	return s.result
}

// Push queues a chunk for delivery. It never blocks; it reports false
// once the stream has finished or its consumer has discarded it, and
// the chunk is dropped in that case.
func (s *Stream) Push(c Chunk) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished || s.discarded {
		return false
	}
	s.queue = append(s.queue, c)
	s.cond.Signal()
	return true
}

// Finish sets the terminal result. Chunks already queued are delivered
// before the chunk channel closes. Subsequent calls are no-ops.
func (s *Stream) Finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	s.result = Result{Unit: s.unit, Err: err}
	s.cond.Signal()
}

// Discard abandons the stream from the consumer side: queued chunks
// are dropped, the chunk channel closes, and if no terminal result was
// set the stream finishes as cancelled. Idempotent.
func (s *Stream) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.discarded {
		return
	}
	s.discarded = true
	close(s.gone)
	s.cond.Signal()
}

// deliver pumps queued chunks to the consumer, then closes the
// channels once the stream is finished and drained, or discarded. It
// is the sole closer of chunks and done.
func (s *Stream) deliver() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.finished && !s.discarded {
			s.cond.Wait()
		}
		if s.discarded || (s.finished && len(s.queue) == 0) {
			if !s.finished {
				s.finished = true
				s.result = Result{Unit: s.unit, Err: context.Canceled}
			}
			s.mu.Unlock()
			close(s.chunks)
			close(s.done)
			return
		}
		c := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.chunks <- c:
		case <-s.gone:
		}
	}
}
