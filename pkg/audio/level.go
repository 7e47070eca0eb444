package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// VolumeSample is the loudness of one frame.
type VolumeSample struct {
	// RMS is the root-mean-square amplitude normalised to [0, 1].
	RMS float64

	// Timestamp is the capture time of the frame the sample was taken from.
	Timestamp time.Duration
}

// RMS16 computes sqrt(mean(sample²)) over little-endian int16 PCM, with
// samples normalised to [-1, 1]. Channels are not separated. Returns 0 for
// empty input.
func RMS16(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// Sample measures one frame. It keeps no state and never fails.
func Sample(frame AudioFrame) VolumeSample {
	return VolumeSample{RMS: RMS16(frame.Data), Timestamp: frame.Timestamp}
}

// Sampler maps a frame channel to a channel of volume samples, one per frame
// in arrival order. The returned channel is closed when in closes.
func Sampler(in <-chan AudioFrame) <-chan VolumeSample {
	out := make(chan VolumeSample, cap(in))
	go func() {
		defer close(out)
		for frame := range in {
			out <- Sample(frame)
		}
	}()
	return out
}

// FloatToPCM16 converts normalised float samples to little-endian int16 PCM,
// clamping to the int16 range.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Round(float64(s) * 32767)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}
