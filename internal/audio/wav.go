// Package audio loads waveforms for analysis. Media extraction shells out to
// ffmpeg; decoded audio is always 16 kHz mono float64 in [-1, 1].
package audio

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/go-audio/wav"
	"gonum.org/v1/gonum/floats"
)

// ErrUnreadable marks a media file that could not be decoded into a usable
// waveform (unsupported codec, truncated container, zero-length stream).
var ErrUnreadable = errors.New("audio: unreadable media")

// SampleRate is the analysis rate every waveform is resampled to.
const SampleRate = 16000

// LoadWAV decodes a PCM WAV file into mono float64 samples in [-1, 1].
// Multi-channel files are averaged down to mono.
func LoadWAV(path string) ([]float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("%w: %s is not a valid WAV file", ErrUnreadable, path)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: decode %s: %v", ErrUnreadable, path, err)
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, 0, fmt.Errorf("%w: %s contains no samples", ErrUnreadable, path)
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	scale := 1.0 / float64(int(1)<<(dec.BitDepth-1))

	samples := make([]float64, 0, len(buf.Data)/channels)
	for i := 0; i+channels <= len(buf.Data); i += channels {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[i+c])
		}
		samples = append(samples, sum/float64(channels)*scale)
	}

	return samples, int(dec.SampleRate), nil
}

// FrameEnergies computes the RMS energy of overlapping analysis frames.
// Frame i covers samples [i*hop, i*hop+frameLen); partial trailing frames are
// not emitted, matching the classifier's framing.
func FrameEnergies(samples []float64, sampleRate int, frameLen, hopLen float64) []float64 {
	frameSamples := int(frameLen * float64(sampleRate))
	hopSamples := int(hopLen * float64(sampleRate))
	if frameSamples <= 0 || hopSamples <= 0 || len(samples) < frameSamples {
		return nil
	}

	n := 1 + (len(samples)-frameSamples)/hopSamples
	energies := make([]float64, n)
	for i := 0; i < n; i++ {
		frame := samples[i*hopSamples : i*hopSamples+frameSamples]
		meanSq := floats.Dot(frame, frame) / float64(len(frame))
		energies[i] = math.Sqrt(meanSq)
	}
	return energies
}
