package player

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/ykdojo/super-voice-assistant-sub000/internal/logger"
)

// Sink is the audio output the player schedules buffers onto. One sink
// is owned by one player; implementations must tolerate
// Start/Schedule/Stop cycles and concurrent Stop.
type Sink interface {
	// Start prepares the output for a fresh playback session.
	Start() error
	// Schedule appends a sample buffer to the playback queue.
	Schedule(samples []float32) error
	// Drain blocks until everything scheduled has been played out.
	Drain()
	// Stop aborts playback immediately, discarding queued audio.
	Stop()
	// Close releases the output device.
	Close() error
}

// OtoSink plays scheduled buffers through the system audio device via
// oto. Buffers are handed to the device through a blocking byte queue
// the oto player pulls from.
type OtoSink struct {
	ctx *oto.Context
	log *logger.Logger

	mu     sync.Mutex
	queue  *bufferQueue
	player *oto.Player
}

// NewOtoSink initializes the system audio context (24 kHz mono
// float32). Returns an error if the audio device is unavailable.
func NewOtoSink(log *logger.Logger) (*OtoSink, error) {
	op := &oto.NewContextOptions{
		SampleRate:   SampleRate,
		ChannelCount: ChannelCount,
		Format:       oto.FormatFloat32LE,
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, err
	}
	<-readyChan

	log.Debug("audio sink initialized (rate=%d, channels=%d)", SampleRate, ChannelCount)
	return &OtoSink{ctx: ctx, log: log}, nil
}

// Start creates a fresh device player over an empty queue.
func (s *OtoSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.player != nil {
		s.stopLocked()
	}
	s.queue = newBufferQueue()
	s.player = s.ctx.NewPlayer(s.queue)
	s.player.Play()
	return nil
}

// Schedule enqueues samples for playback. Fails if Start hasn't been
// called or playback was stopped.
func (s *OtoSink) Schedule(samples []float32) error {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()

	if q == nil {
		return errors.New("sink not started")
	}
	return q.enqueue(encodeFloat32LE(samples))
}

// Drain closes the queue and waits for the device to play out the
// remainder.
func (s *OtoSink) Drain() {
	s.mu.Lock()
	q := s.queue
	p := s.player
	s.mu.Unlock()

	if q == nil || p == nil {
		return
	}
	q.close()
	for p.IsPlaying() {
		time.Sleep(10 * time.Millisecond)
	}

	s.mu.Lock()
	s.stopLocked()
	s.mu.Unlock()
}

// Stop aborts playback, discarding anything still queued. Safe to call
// concurrently and when nothing is playing.
func (s *OtoSink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player != nil {
		s.log.Debug("audio sink: interrupted")
	}
	s.stopLocked()
}

// Close stops playback. The oto context itself has no close API; it
// lives for the process.
func (s *OtoSink) Close() error {
	s.Stop()
	return nil
}

func (s *OtoSink) stopLocked() {
	if s.queue != nil {
		s.queue.close()
		s.queue = nil
	}
	if s.player != nil {
		s.player.Pause()
		s.player.Close()
		s.player = nil
	}
}

func encodeFloat32LE(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, v := range samples {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

// bufferQueue is a blocking FIFO of byte buffers implementing
// io.Reader for the oto player. Read blocks until data arrives or the
// queue is closed; a closed, empty queue reads as io.EOF.
type bufferQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	bufs   [][]byte
	offset int // read position within bufs[0]
	closed bool
}

func newBufferQueue() *bufferQueue {
	q := &bufferQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *bufferQueue) enqueue(b []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("playback queue closed")
	}
	q.bufs = append(q.bufs, b)
	q.cond.Signal()
	return nil
}

func (q *bufferQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

func (q *bufferQueue) Read(p []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.bufs) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.bufs) == 0 {
		return 0, io.EOF
	}

	n := 0
	for n < len(p) && len(q.bufs) > 0 {
		src := q.bufs[0][q.offset:]
		c := copy(p[n:], src)
		n += c
		if c == len(src) {
			q.bufs = q.bufs[1:]
			q.offset = 0
		} else {
			q.offset += c
		}
	}
	return n, nil
}
