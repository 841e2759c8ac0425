package media

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/go-audio/wav"
)

// Clip is a decoded media asset as interleaved signed 16-bit PCM.
type Clip struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Load decodes the WAV file at path.
func Load(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s is not a valid WAV file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode WAV: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 || buf.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("%s has no usable audio format", path)
	}

	samples := make([]int16, len(buf.Data))
	for i, s := range buf.Data {
		v, err := toInt16(s, buf.SourceBitDepth)
		if err != nil {
			return nil, err
		}
		samples[i] = v
	}
	return &Clip{
		Samples:    samples,
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
	}, nil
}

// toInt16 rescales a decoded sample to 16 bits. 8-bit WAV data is unsigned.
func toInt16(s, depth int) (int16, error) {
	switch depth {
	case 8:
		return int16((s - 128) << 8), nil
	case 16:
		return int16(s), nil
	case 24:
		return int16(s >> 8), nil
	case 32:
		return int16(s >> 16), nil
	default:
		return 0, fmt.Errorf("unsupported WAV bit depth %d", depth)
	}
}

// Frames is the number of sample frames.
func (c *Clip) Frames() int {
	if c.Channels == 0 {
		return 0
	}
	return len(c.Samples) / c.Channels
}

// Duration is the playback length.
func (c *Clip) Duration() time.Duration {
	if c.SampleRate == 0 {
		return 0
	}
	return time.Duration(c.Frames()) * time.Second / time.Duration(c.SampleRate)
}

// PCM returns the samples as little-endian bytes, the layout of malgo.FormatS16.
func (c *Clip) PCM() []byte {
	out := make([]byte, 2*len(c.Samples))
	for i, s := range c.Samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}
