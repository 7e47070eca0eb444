package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrInvalidWAV is returned by [DecodeWAV] for input that is not a 16-bit PCM
// RIFF/WAVE file.
var ErrInvalidWAV = errors.New("audio: invalid WAV data")

// EncodeWAV wraps little-endian int16 PCM in a RIFF/WAVE container.
func EncodeWAV(pcm []byte, format Format) ([]byte, error) {
	if format.SampleRate <= 0 {
		return nil, fmt.Errorf("audio: encode wav: invalid sample rate %d", format.SampleRate)
	}
	ch := max(format.Channels, 1)

	buf := &seekBuffer{}
	enc := wav.NewEncoder(buf, format.SampleRate, 16, ch, 1)

	ints := make([]int, len(pcm)/2)
	for i := range ints {
		ints[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	ib := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: ch, SampleRate: format.SampleRate},
		Data:           ints,
		SourceBitDepth: 16,
	}
	if err := enc.Write(ib); err != nil {
		return nil, fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("audio: encode wav: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeWAV extracts the PCM payload and format from a 16-bit WAV file.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, Format{}, ErrInvalidWAV
	}
	if dec.BitDepth != 16 {
		return nil, Format{}, fmt.Errorf("%w: %d-bit samples", ErrInvalidWAV, dec.BitDepth)
	}
	ib, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, Format{}, fmt.Errorf("audio: decode wav: %w", err)
	}
	pcm := make([]byte, len(ib.Data)*2)
	for i, s := range ib.Data {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(s)))
	}
	return pcm, Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}, nil
}

// seekBuffer is an in-memory io.WriteSeeker; the WAV encoder seeks back to
// patch chunk sizes on Close.
type seekBuffer struct {
	data []byte
	pos  int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	if end := b.pos + len(p); end > len(b.data) {
		b.data = append(b.data, make([]byte, end-len(b.data))...)
	}
	n := copy(b.data[b.pos:], p)
	b.pos += n
	return n, nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(b.pos)
	case io.SeekEnd:
		base = int64(len(b.data))
	default:
		return 0, fmt.Errorf("audio: seek: invalid whence %d", whence)
	}
	next := base + offset
	if next < 0 {
		return 0, errors.New("audio: seek: negative position")
	}
	b.pos = int(next)
	return next, nil
}

func (b *seekBuffer) Bytes() []byte { return b.data }
