package wavenc

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
)

func TestEncodeFileRoundTrip(t *testing.T) {
	samples := []int16{0, 16384, -16384, 32767, -32768}
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(s))
	}

	path := filepath.Join(t.TempDir(), "out.wav")
	if err := EncodeFile(path, pcm, 24000, 1); err != nil {
		t.Fatalf("encode: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.SampleRate != 24000 {
		t.Fatalf("expected 24000 Hz, got %d", dec.SampleRate)
	}
	if dec.NumChans != 1 {
		t.Fatalf("expected mono, got %d channels", dec.NumChans)
	}
	if len(buf.Data) != len(samples) {
		t.Fatalf("expected %d samples, got %d", len(samples), len(buf.Data))
	}
	for i, s := range samples {
		if buf.Data[i] != int(s) {
			t.Fatalf("sample %d: expected %d, got %d", i, s, buf.Data[i])
		}
	}
}

func TestEncodeRejectsMisalignedPCM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	if err := EncodeFile(path, []byte{1, 2, 3}, 24000, 1); err == nil {
		t.Fatal("expected an error for odd-length PCM")
	}
}
