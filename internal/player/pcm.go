package player

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Audio parameters of the synthesis service's output and the playback
// device configuration.
const (
	SampleRate   = 24000
	ChannelCount = 1
	BitDepth     = 16
)

// DecodeSamples converts a chunk of little-endian 16-bit signed PCM
// into normalized float samples in [-1, 1). The result has
// len(data)/2 samples. An odd byte count is a buffer error; the caller
// drops the chunk.
func DecodeSamples(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("pcm chunk not sample-aligned: %d bytes", len(data))
	}
	samples := make([]float32, len(data)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(data[2*i:]))) / 32768
	}
	return samples, nil
}

// Silence returns a zeroed sample buffer covering d at the given
// sample rate.
func Silence(d time.Duration, sampleRate int) []float32 {
	n := int(d.Milliseconds()) * sampleRate / 1000
	if n <= 0 {
		return nil
	}
	return make([]float32, n)
}
