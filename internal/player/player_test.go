package player

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ykdojo/super-voice-assistant-sub000/internal/logger"
	"github.com/ykdojo/super-voice-assistant-sub000/internal/synth"
)

// threeUnits segments into exactly three units with minWords=5.
const threeUnits = "Alpha one two three four five. Bravo one two three four five. Charlie one two three four five."

// fiveUnits segments into exactly five units with minWords=5.
const fiveUnits = threeUnits + " Delta one two three four five. Echo one two three four five."

// pcmValue encodes a single int16 sample as a 2-byte PCM chunk, so a
// scheduled buffer's first sample identifies which unit/chunk it was.
func pcmValue(v int16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(v))
	return b
}

// chunkID is unit*100 + seq + 1, recovered from a scheduled buffer.
func chunkID(unit, seq int) int16 {
	return int16(unit*100 + seq + 1)
}

func decodeID(buf []float32) int {
	if len(buf) == 0 {
		return -1
	}
	return int(math.Round(float64(buf[0]) * 32768))
}

func isSilence(buf []float32) bool {
	for _, v := range buf {
		if v != 0 {
			return false
		}
	}
	return len(buf) > 1
}

// fakeSynth scripts per-unit streams and records call/finish ordering.
// feed pushes chunks and returns the stream's terminal error; the
// bookkeeping happens before the stream is finished, so event order
// matches what the player can observe.
type fakeSynth struct {
	feed func(unit int, st *synth.Stream) error

	mu          sync.Mutex
	calls       []int
	outstanding int
	maxOut      int
	events      []string
}

func (f *fakeSynth) Synthesize(_ context.Context, _ string, unit int) *synth.Stream {
	st := synth.NewStream(unit)

	f.mu.Lock()
	f.calls = append(f.calls, unit)
	f.events = append(f.events, fmt.Sprintf("call:%d", unit))
	f.outstanding++
	if f.outstanding > f.maxOut {
		f.maxOut = f.outstanding
	}
	f.mu.Unlock()

	go func() {
		err := f.feed(unit, st)
		f.mu.Lock()
		f.outstanding--
		f.events = append(f.events, fmt.Sprintf("finish:%d", unit))
		f.mu.Unlock()
		st.Finish(err)
	}()
	return st
}

func (f *fakeSynth) snapshot() (calls []int, maxOut int, events []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.calls...), f.maxOut, append([]string(nil), f.events...)
}

// fakeSink records scheduled buffers.
type fakeSink struct {
	mu         sync.Mutex
	started    int
	stopped    int
	drains     int
	scheduled  [][]float32
	onSchedule func(buf []float32, count int)
}

func (s *fakeSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started++
	return nil
}

func (s *fakeSink) Schedule(samples []float32) error {
	s.mu.Lock()
	s.scheduled = append(s.scheduled, samples)
	count := len(s.scheduled)
	hook := s.onSchedule
	s.mu.Unlock()
	if hook != nil {
		hook(samples, count)
	}
	return nil
}

func (s *fakeSink) Drain() {
	s.mu.Lock()
	s.drains++
	s.mu.Unlock()
}

func (s *fakeSink) Stop() {
	s.mu.Lock()
	s.stopped++
	s.mu.Unlock()
}

func (s *fakeSink) Close() error { return nil }

func (s *fakeSink) buffers() [][]float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]float32(nil), s.scheduled...)
}

// steadyFeed pushes two identifiable chunks per unit, then completes.
func steadyFeed(unit int, st *synth.Stream) error {
	st.Push(synth.Chunk{Unit: unit, PCM: pcmValue(chunkID(unit, 0))})
	st.Push(synth.Chunk{Unit: unit, PCM: pcmValue(chunkID(unit, 1))})
	time.Sleep(5 * time.Millisecond) // a little network latency
	return nil
}

func newTestPlayer(fs *fakeSynth, sink *fakeSink, opts ...Option) *Player {
	log := logger.New(logger.LevelOff, nil)
	base := []Option{WithPaceDelay(0), WithGap(0), WithMinWords(5)}
	return New(fs, sink, log, append(base, opts...)...)
}

func TestSpeakSchedulesUnitsInOrder(t *testing.T) {
	fs := &fakeSynth{feed: steadyFeed}
	sink := &fakeSink{}
	p := newTestPlayer(fs, sink, WithGap(50*time.Millisecond))

	if err := p.Speak(context.Background(), threeUnits); err != nil {
		t.Fatalf("speak: %v", err)
	}

	var ids []int
	silences := 0
	lastUnit := -1
	for _, buf := range sink.buffers() {
		if isSilence(buf) {
			silences++
			continue
		}
		id := decodeID(buf)
		ids = append(ids, id)
		unit := id / 100
		if unit < lastUnit {
			t.Fatalf("unit ordering violated: %v", ids)
		}
		lastUnit = unit
	}

	want := []int{1, 2, 101, 102, 201, 202}
	if len(ids) != len(want) {
		t.Fatalf("expected %d audio buffers, got %d: %v", len(want), len(ids), ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("buffer %d: expected id %d, got %d", i, want[i], ids[i])
		}
	}

	// A gap between each pair of units, none after the last.
	if silences != 2 {
		t.Fatalf("expected 2 silence buffers, got %d", silences)
	}
	if sink.started != 1 {
		t.Fatalf("expected the sink started once, got %d", sink.started)
	}
	if sink.drains != 1 {
		t.Fatalf("expected one drain on normal completion, got %d", sink.drains)
	}
}

func TestSilenceBufferSized(t *testing.T) {
	fs := &fakeSynth{feed: steadyFeed}
	sink := &fakeSink{}
	p := newTestPlayer(fs, sink, WithGap(50*time.Millisecond))

	if err := p.Speak(context.Background(), threeUnits); err != nil {
		t.Fatalf("speak: %v", err)
	}
	for _, buf := range sink.buffers() {
		if isSilence(buf) && len(buf) != 1200 { // 50ms at 24kHz
			t.Fatalf("expected 1200 silence samples, got %d", len(buf))
		}
	}
}

func TestPrefetchWindowBounded(t *testing.T) {
	fs := &fakeSynth{feed: func(unit int, st *synth.Stream) error {
		st.Push(synth.Chunk{Unit: unit, PCM: pcmValue(chunkID(unit, 0))})
		time.Sleep(20 * time.Millisecond)
		return nil
	}}
	sink := &fakeSink{}
	p := newTestPlayer(fs, sink)

	if err := p.Speak(context.Background(), fiveUnits); err != nil {
		t.Fatalf("speak: %v", err)
	}

	calls, maxOut, events := fs.snapshot()

	if maxOut != 2 {
		t.Fatalf("expected exactly 2 outstanding synthesize calls at peak, got %d", maxOut)
	}
	for i, unit := range calls {
		if unit != i {
			t.Fatalf("synthesize calls out of order: %v", calls)
		}
	}
	if len(calls) != 5 {
		t.Fatalf("expected 5 synthesize calls, got %d", len(calls))
	}

	// Unit k+2 is never requested before unit k's stream finished.
	index := func(ev string) int {
		for i, e := range events {
			if e == ev {
				return i
			}
		}
		return -1
	}
	for k := 0; k+2 < 5; k++ {
		finish := index(fmt.Sprintf("finish:%d", k))
		call := index(fmt.Sprintf("call:%d", k+2))
		if finish == -1 || call == -1 {
			t.Fatalf("missing events: %v", events)
		}
		if call < finish {
			t.Fatalf("unit %d prefetched before unit %d finished: %v", k+2, k, events)
		}
	}
}

func TestStopCutsOffLaterUnits(t *testing.T) {
	fs := &fakeSynth{feed: steadyFeed}
	sink := &fakeSink{}
	p := newTestPlayer(fs, sink)

	// Stop as soon as the first buffer of unit index 1 is scheduled.
	sink.onSchedule = func(buf []float32, _ int) {
		if decodeID(buf) == 101 {
			p.Stop()
		}
	}

	if err := p.Speak(context.Background(), fiveUnits); err != nil {
		t.Fatalf("cancelled speak must return nil, got %v", err)
	}

	for _, buf := range sink.buffers() {
		if isSilence(buf) {
			continue
		}
		if unit := decodeID(buf) / 100; unit >= 2 {
			t.Fatalf("buffer scheduled for unit %d after cancellation", unit)
		}
	}

	sink.mu.Lock()
	stopped := sink.stopped
	sink.mu.Unlock()
	if stopped == 0 {
		t.Fatal("sink was never stopped")
	}
}

func TestFailureContinuePolicy(t *testing.T) {
	failErr := errors.New("synthesis blew up")
	fs := &fakeSynth{feed: func(unit int, st *synth.Stream) error {
		if unit == 1 {
			st.Push(synth.Chunk{Unit: unit, PCM: pcmValue(chunkID(unit, 0))})
			return failErr
		}
		return steadyFeed(unit, st)
	}}
	sink := &fakeSink{}

	var mu sync.Mutex
	var failed []int
	p := newTestPlayer(fs, sink, WithObserver(func(ev UnitEvent) {
		if ev.State == UnitFailed {
			mu.Lock()
			failed = append(failed, ev.Unit)
			mu.Unlock()
		}
	}))

	if err := p.Speak(context.Background(), threeUnits); err != nil {
		t.Fatalf("continue policy must not fail the sequence: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(failed) != 1 || failed[0] != 1 {
		t.Fatalf("expected unit 1 reported failed, got %v", failed)
	}

	// Audio buffered before the failure still played, and unit 2 ran.
	saw101, saw201 := false, false
	for _, buf := range sink.buffers() {
		switch decodeID(buf) {
		case 101:
			saw101 = true
		case 201:
			saw201 = true
		}
	}
	if !saw101 {
		t.Fatal("audio buffered before the failure was dropped")
	}
	if !saw201 {
		t.Fatal("playback did not advance past the failed unit")
	}
}

func TestFailureAbortPolicy(t *testing.T) {
	failErr := errors.New("synthesis blew up")
	fs := &fakeSynth{feed: func(unit int, st *synth.Stream) error {
		if unit == 1 {
			return failErr
		}
		return steadyFeed(unit, st)
	}}
	sink := &fakeSink{}
	p := newTestPlayer(fs, sink, WithFailurePolicy(FailAbort))

	err := p.Speak(context.Background(), threeUnits)
	if err == nil {
		t.Fatal("abort policy must surface the failure")
	}
	if !errors.Is(err, failErr) {
		t.Fatalf("expected the unit error, got %v", err)
	}

	for _, buf := range sink.buffers() {
		if decodeID(buf)/100 >= 2 {
			t.Fatal("unit 2 scheduled despite abort")
		}
	}
}

func TestOpenFailureFailsWholePlayback(t *testing.T) {
	fs := &fakeSynth{feed: func(_ int, _ *synth.Stream) error {
		return &synth.TransportError{Op: "dial", Err: errors.New("connection refused")}
	}}
	sink := &fakeSink{}
	p := newTestPlayer(fs, sink)

	err := p.Speak(context.Background(), threeUnits)
	if err == nil {
		t.Fatal("expected an error when the connection cannot be opened")
	}
	if !strings.Contains(err.Error(), "synthesis unavailable") {
		t.Fatalf("expected a synthesis-unavailable error, got %v", err)
	}
	if sink.started != 0 {
		t.Fatal("sink should never start when no audio arrives")
	}
}

func TestMisalignedChunkDropped(t *testing.T) {
	fs := &fakeSynth{feed: func(unit int, st *synth.Stream) error {
		if unit == 0 {
			st.Push(synth.Chunk{Unit: unit, PCM: []byte{1, 2, 3}}) // odd length
		}
		return steadyFeed(unit, st)
	}}
	sink := &fakeSink{}
	p := newTestPlayer(fs, sink)

	if err := p.Speak(context.Background(), threeUnits); err != nil {
		t.Fatalf("a bad chunk must not fail playback: %v", err)
	}
	if got := len(sink.buffers()); got != 6 {
		t.Fatalf("expected the 6 good buffers only, got %d", got)
	}
}

func TestEmptyTextIsNoop(t *testing.T) {
	fs := &fakeSynth{feed: steadyFeed}
	sink := &fakeSink{}
	p := newTestPlayer(fs, sink)

	if err := p.Speak(context.Background(), "   "); err != nil {
		t.Fatalf("speak: %v", err)
	}
	calls, _, _ := fs.snapshot()
	if len(calls) != 0 {
		t.Fatalf("expected no synthesize calls, got %v", calls)
	}
}
