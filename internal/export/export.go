// Package export cuts episode clips out of source recordings so they can be
// reviewed or handed over. Clips are stream-copied with ffmpeg; each clip
// gets a JSON sidecar written atomically so a half-written file is never
// mistaken for a finished export.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/renameio/v2"

	xlog "github.com/cradlewatch/cradlewatch/internal/log"
)

// DefaultPad is the context added before and after the episode, in seconds.
const DefaultPad = 2.0

// ClipRequest names one episode span to cut from a source recording.
type ClipRequest struct {
	Fingerprint string  `json:"fingerprint"`
	SourcePath  string  `json:"source_path"`
	EventType   string  `json:"event_type"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	// Pad widens the cut on both sides. Zero means DefaultPad.
	Pad float64 `json:"pad,omitempty"`
}

// ClipResult reports where the clip and its sidecar landed.
type ClipResult struct {
	ClipPath string `json:"clip_path"`
	MetaPath string `json:"meta_path"`
}

type sidecar struct {
	ClipRequest
	ClipStart  float64   `json:"clip_start"`
	ClipEnd    float64   `json:"clip_end"`
	ExportedAt time.Time `json:"exported_at"`
}

// Exporter writes episode clips under OutDir.
type Exporter struct {
	FFmpegPath string
	OutDir     string
}

func New(ffmpegPath, outDir string) *Exporter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Exporter{FFmpegPath: ffmpegPath, OutDir: outDir}
}

// Export cuts the padded span out of the source recording. The source is
// never modified.
func (e *Exporter) Export(ctx context.Context, req ClipRequest) (ClipResult, error) {
	if req.End <= req.Start {
		return ClipResult{}, fmt.Errorf("export: empty span %v..%v", req.Start, req.End)
	}
	pad := req.Pad
	if pad <= 0 {
		pad = DefaultPad
	}
	clipStart := req.Start - pad
	if clipStart < 0 {
		clipStart = 0
	}
	clipEnd := req.End + pad

	if err := os.MkdirAll(e.OutDir, 0o750); err != nil {
		return ClipResult{}, fmt.Errorf("export: create output dir: %w", err)
	}

	base := fmt.Sprintf("%s_%s_%.1f-%.1f", req.Fingerprint, req.EventType, req.Start, req.End)
	clipPath := filepath.Join(e.OutDir, base+".mp4")
	metaPath := filepath.Join(e.OutDir, base+".json")

	args := ClipArgs(req.SourcePath, clipStart, clipEnd, clipPath)
	cmd := exec.CommandContext(ctx, e.FFmpegPath, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return ClipResult{}, fmt.Errorf("export: ffmpeg failed: %w: %s", err, string(out))
	}
	if info, err := os.Stat(clipPath); err != nil || info.Size() == 0 {
		return ClipResult{}, fmt.Errorf("export: ffmpeg produced no output for %s", req.SourcePath)
	}

	meta, err := json.MarshalIndent(sidecar{
		ClipRequest: req,
		ClipStart:   clipStart,
		ClipEnd:     clipEnd,
		ExportedAt:  time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return ClipResult{}, fmt.Errorf("export: encode sidecar: %w", err)
	}
	if err := renameio.WriteFile(metaPath, meta, 0o644); err != nil {
		return ClipResult{}, fmt.Errorf("export: write sidecar: %w", err)
	}

	logger := xlog.WithComponent("export")
	logger.Info().
		Str(xlog.FieldFingerprint, req.Fingerprint).
		Str(xlog.FieldEventType, req.EventType).
		Str(xlog.FieldPath, clipPath).
		Str(xlog.FieldEvent, "export.clip_written").
		Msg("episode clip exported")

	return ClipResult{ClipPath: clipPath, MetaPath: metaPath}, nil
}

// ClipArgs builds the ffmpeg argument list for a stream-copy cut. Seeking
// happens before the input for speed; precision at keyframe granularity is
// acceptable for review clips.
func ClipArgs(source string, start, end float64, out string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-ss", strconv.FormatFloat(start, 'f', 3, 64),
		"-i", source,
		"-t", strconv.FormatFloat(end-start, 'f', 3, 64),
		"-c", "copy",
		"-y", out,
	}
}
