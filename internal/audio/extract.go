package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rs/zerolog"

	xlog "github.com/cradlewatch/cradlewatch/internal/log"
)

// Extractor pulls the audio track out of a media file into a temporary
// 16 kHz mono WAV via ffmpeg. The source file is passed as a read-only input
// and is never modified; the WAV always lands in a fresh temp directory.
type Extractor struct {
	FFmpegPath string // defaults to "ffmpeg" on PATH
	SampleRate int    // defaults to SampleRate
	Logger     zerolog.Logger
}

// NewExtractor returns an Extractor with defaults filled in.
func NewExtractor(ffmpegPath string) *Extractor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Extractor{
		FFmpegPath: ffmpegPath,
		SampleRate: SampleRate,
		Logger:     xlog.WithComponent("audio"),
	}
}

// ExtractWAV demuxes and resamples mediaPath into a temp WAV and returns its
// path plus a cleanup function that removes the temp directory. Extraction
// failures surface as ErrUnreadable.
func (e *Extractor) ExtractWAV(ctx context.Context, mediaPath string) (string, func(), error) {
	rate := e.SampleRate
	if rate <= 0 {
		rate = SampleRate
	}

	tmpDir, err := os.MkdirTemp("", "cradlewatch-audio-*")
	if err != nil {
		return "", nil, fmt.Errorf("create temp dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(tmpDir) }

	outPath := filepath.Join(tmpDir, "audio.wav")
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", mediaPath,
		"-vn",
		"-ac", "1",
		"-ar", fmt.Sprint(rate),
		"-f", "wav",
		"-y", outPath,
	}

	cmd := exec.CommandContext(ctx, e.FFmpegPath, args...) // #nosec G204
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	e.Logger.Debug().
		Str(xlog.FieldEvent, "extract.start").
		Str(xlog.FieldPath, mediaPath).
		Msg("extracting audio track")

	if err := cmd.Run(); err != nil {
		cleanup()
		msg := bytes.TrimSpace(stderr.Bytes())
		return "", nil, fmt.Errorf("%w: ffmpeg on %s: %v (%s)", ErrUnreadable, mediaPath, err, msg)
	}

	info, err := os.Stat(outPath)
	if err != nil || info.Size() == 0 {
		cleanup()
		return "", nil, fmt.Errorf("%w: %s produced no audio", ErrUnreadable, mediaPath)
	}

	return outPath, cleanup, nil
}

// Waveform extracts and decodes mediaPath in one step, returning mono samples
// at the extractor's sample rate.
func (e *Extractor) Waveform(ctx context.Context, mediaPath string) ([]float64, int, error) {
	wavPath, cleanup, err := e.ExtractWAV(ctx, mediaPath)
	if err != nil {
		return nil, 0, err
	}
	defer cleanup()
	return LoadWAV(wavPath)
}
