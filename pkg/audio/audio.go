// Package audio decodes WAV and MP3 files into mono float32 clips and prepares
// them for feature extraction.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"go.uber.org/multierr"
)

// ErrUnsupported is returned for containers and encodings Load cannot read.
var ErrUnsupported = errors.New("audio: unsupported format")

// Clip is decoded audio, down-mixed to mono. Channels records how many
// channels the source had.
type Clip struct {
	SampleRate int
	Channels   int
	Samples    []float32
}

func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// Load decodes the file at path, picking the decoder by extension.
func Load(path string) (clip Clip, err error) {
	f, err := os.Open(path)
	if err != nil {
		return Clip{}, fmt.Errorf("error opening audio file: %w", err)
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()
	clip, err = Decode(f, filepath.Ext(path))
	if err != nil {
		return Clip{}, fmt.Errorf("%s: %w", path, err)
	}
	return clip, nil
}

// Decode reads a ".wav" or ".mp3" stream.
func Decode(r io.ReadSeeker, ext string) (Clip, error) {
	switch strings.ToLower(ext) {
	case ".wav", ".wave":
		return decodeWAV(r)
	case ".mp3":
		return decodeMP3(r)
	default:
		return Clip{}, fmt.Errorf("%w: file extension %q", ErrUnsupported, ext)
	}
}

func decodeWAV(r io.ReadSeeker) (Clip, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return Clip{}, fmt.Errorf("%w: invalid WAV file", ErrUnsupported)
	}
	if decoder.WavAudioFormat != 1 {
		return Clip{}, fmt.Errorf("%w: WAV audio format %d, only integer PCM is supported", ErrUnsupported, decoder.WavAudioFormat)
	}
	if !supportedDepth(int(decoder.BitDepth)) {
		return Clip{}, fmt.Errorf("%w: WAV bit depth %d", ErrUnsupported, decoder.BitDepth)
	}
	buffer, err := decoder.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("error decoding WAV file: %w", err)
	}
	channels := buffer.Format.NumChannels
	if channels < 1 {
		return Clip{}, fmt.Errorf("%w: WAV file with %d channels", ErrUnsupported, channels)
	}
	if !supportedDepth(buffer.SourceBitDepth) {
		return Clip{}, fmt.Errorf("%w: WAV bit depth %d", ErrUnsupported, buffer.SourceBitDepth)
	}
	var (
		depth  = buffer.SourceBitDepth
		scale  = float32(int(1) << (depth - 1))
		offset float32
	)
	if depth == 8 {
		// 8-bit PCM is unsigned
		offset = scale
	}
	samples := make([]float32, len(buffer.Data))
	for i, v := range buffer.Data {
		samples[i] = (float32(v) - offset) / scale
	}
	return Clip{
		SampleRate: buffer.Format.SampleRate,
		Channels:   channels,
		Samples:    downmix(samples, channels),
	}, nil
}

func supportedDepth(depth int) bool {
	switch depth {
	case 8, 16, 24, 32:
		return true
	}
	return false
}

func decodeMP3(r io.Reader) (Clip, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return Clip{}, fmt.Errorf("error creating MP3 decoder: %w", err)
	}
	// go-mp3 always yields 16-bit little-endian stereo
	b, err := io.ReadAll(decoder)
	if err != nil {
		return Clip{}, fmt.Errorf("error reading MP3 data: %w", err)
	}
	clip := FromPCM16(b, decoder.SampleRate(), 2)
	clip.Samples = downmix(clip.Samples, 2)
	return clip, nil
}

// FromPCM16 converts interleaved signed 16-bit little-endian PCM into a clip.
// The samples are left interleaved when channels > 1.
func FromPCM16(b []byte, sampleRate, channels int) Clip {
	samples := make([]float32, len(b)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(b[2*i:]))) / 32768
	}
	return Clip{SampleRate: sampleRate, Channels: channels, Samples: samples}
}

// downmix averages interleaved frames into one channel.
func downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	out := make([]float32, len(samples)/channels)
	for i := range out {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Fit zero-pads or truncates samples to exactly n values.
func Fit(samples []float32, n int) []float32 {
	out := make([]float32, n)
	copy(out, samples)
	return out
}
