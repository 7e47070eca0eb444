package audio

import (
	"encoding/binary"
	"log/slog"
	"sync"
)

// Normalizer converts captured frames to the format the recorder buffers in.
// It logs a warning on the first mismatch and drops misaligned frames.
// Create one per stream; not designed for shared use across goroutines.
type Normalizer struct {
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Normalize converts frame to the target format. Frames already in the
// target format are returned unchanged. Channels are downmixed before
// resampling so that only one channel has to be interpolated.
func (n *Normalizer) Normalize(frame AudioFrame) AudioFrame {
	ch := max(frame.Channels, 1)
	if len(frame.Data)%(2*ch) != 0 {
		n.warnedCorrupt.Do(func() {
			slog.Warn("audio normalizer: misaligned PCM data, dropping frame",
				"bytes", len(frame.Data),
				"channels", ch,
			)
		})
		return AudioFrame{SampleRate: n.Target.SampleRate, Channels: n.Target.Channels, Timestamp: frame.Timestamp}
	}

	if frame.SampleRate == n.Target.SampleRate && ch == n.Target.Channels {
		return frame
	}

	n.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", formatString(frame.SampleRate, ch),
			"to", n.Target.String(),
		)
	})

	pcm := frame.Data
	if ch > 1 && n.Target.Channels == 1 {
		pcm = Downmix16(pcm, ch)
		ch = 1
	}
	if ch == 1 {
		pcm = ResampleMono16(pcm, frame.SampleRate, n.Target.SampleRate)
	}

	return AudioFrame{
		Data:       pcm,
		SampleRate: n.Target.SampleRate,
		Channels:   ch,
		Timestamp:  frame.Timestamp,
	}
}

// Downmix16 averages interleaved int16 PCM with the given channel count down
// to mono. Uses int32 arithmetic so the average cannot overflow.
func Downmix16(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	stride := channels * 2
	frames := len(pcm) / stride
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for c := range channels {
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[i*stride+c*2:])))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sum/int32(channels))))
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. If the rates match or either is invalid, pcm is returned
// unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	src := len(pcm) / 2
	dst := int(int64(src) * int64(dstRate) / int64(srcRate))
	if dst == 0 {
		return nil
	}

	at := func(i int) float64 {
		if i >= src {
			i = src - 1
		}
		return float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	out := make([]byte, dst*2)
	step := float64(srcRate) / float64(dstRate)
	for i := range dst {
		pos := float64(i) * step
		j := int(pos)
		frac := pos - float64(j)
		v := at(j)*(1-frac) + at(j+1)*frac
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// PCM16ToFloat32 converts little-endian int16 PCM to float32 samples in [-1, 1).
func PCM16ToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	return out
}
