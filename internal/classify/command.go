package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"

	"github.com/cradlewatch/cradlewatch/internal/detect"
	xlog "github.com/cradlewatch/cradlewatch/internal/log"
)

// scorerOutput is the JSON document the external scorer writes to stdout:
// raw model class names and one score row per frame.
type scorerOutput struct {
	Hop     float64     `json:"hop"`
	Window  float64     `json:"window"`
	Classes []string    `json:"classes"`
	Scores  [][]float64 `json:"scores"`
}

// CommandClassifier bridges to an external scorer process. The waveform is
// written to a temp WAV, the scorer is invoked with that path as its last
// argument, and its stdout JSON is pooled into monitored event groups.
type CommandClassifier struct {
	BinPath string
	Args    []string
	Groups  map[detect.EventType][]string // nil means DefaultGroups
	Timeout time.Duration                 // per invocation; zero means no limit
	Logger  zerolog.Logger
}

// NewCommandClassifier wires a scorer command with stock groups.
func NewCommandClassifier(binPath string, args ...string) *CommandClassifier {
	return &CommandClassifier{
		BinPath: binPath,
		Args:    args,
		Groups:  DefaultGroups(),
		Logger:  xlog.WithComponent("classify"),
	}
}

// Classify implements Classifier.
func (c *CommandClassifier) Classify(ctx context.Context, samples []float64, sampleRate int) (*ScoreStream, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: empty waveform", ErrClassifierFailure)
	}

	tmpDir, err := os.MkdirTemp("", "cradlewatch-scores-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	wavPath := filepath.Join(tmpDir, "waveform.wav")
	if err := writeWAV(wavPath, samples, sampleRate); err != nil {
		return nil, fmt.Errorf("%w: stage waveform: %v", ErrClassifierFailure, err)
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	args := append(append([]string(nil), c.Args...), wavPath)
	cmd := exec.CommandContext(ctx, c.BinPath, args...) // #nosec G204
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		msg := bytes.TrimSpace(stderr.Bytes())
		return nil, fmt.Errorf("%w: %s: %v (%s)", ErrClassifierFailure, c.BinPath, err, msg)
	}

	stream, err := ParseScorerOutput(stdout.Bytes(), c.Groups)
	if err != nil {
		return nil, err
	}

	c.Logger.Debug().
		Str(xlog.FieldEvent, "classify.done").
		Int("frames", stream.Frames()).
		Dur("elapsed", time.Since(start)).
		Msg("classifier run complete")
	return stream, nil
}

// ParseScorerOutput validates and pools a scorer's JSON document. Exposed so
// the wire format can be tested without spawning processes.
func ParseScorerOutput(data []byte, groups map[detect.EventType][]string) (*ScoreStream, error) {
	var out scorerOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: bad scorer output: %v", ErrClassifierFailure, err)
	}

	hop, window := out.Hop, out.Window
	if hop <= 0 {
		hop = DefaultHop
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if hop >= window {
		return nil, fmt.Errorf("%w: hop %.3f must be smaller than window %.3f", ErrClassifierFailure, hop, window)
	}
	if len(out.Classes) == 0 {
		return nil, fmt.Errorf("%w: scorer reported no classes", ErrClassifierFailure)
	}
	for f, frame := range out.Scores {
		if len(frame) != len(out.Classes) {
			return nil, fmt.Errorf("%w: frame %d has %d scores for %d classes", ErrClassifierFailure, f, len(frame), len(out.Classes))
		}
		for _, s := range frame {
			if s < 0 || s > 1 {
				return nil, fmt.Errorf("%w: score %v outside [0,1]", ErrClassifierFailure, s)
			}
		}
	}

	if groups == nil {
		groups = DefaultGroups()
	}
	return &ScoreStream{
		Hop:    hop,
		Window: window,
		Scores: PoolGroups(out.Classes, out.Scores, groups),
	}, nil
}

func writeWAV(path string, samples []float64, sampleRate int) error {
	f, err := os.Create(path) // #nosec G304 -- temp dir owned by this process
	if err != nil {
		return err
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	data := make([]int, len(samples))
	for i, s := range samples {
		switch {
		case s > 1:
			s = 1
		case s < -1:
			s = -1
		}
		data[i] = int(s * 32767)
	}
	buf := &goaudio.IntBuffer{
		Data:           data,
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		_ = f.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
