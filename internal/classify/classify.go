// Package classify adapts an external frame-level acoustic classifier into a
// uniform per-class score stream. The classifier itself is a black box: it
// maps a mono waveform to one score per known class per analysis frame at a
// fixed hop/window. This package normalizes its output, pools raw model
// classes into the monitored event groups, and gates frames by silence.
package classify

import (
	"context"
	"errors"
	"strings"

	"github.com/cradlewatch/cradlewatch/internal/detect"
	"github.com/cradlewatch/cradlewatch/internal/silence"
)

// ErrClassifierFailure marks a classifier run that produced no usable scores.
var ErrClassifierFailure = errors.New("classify: classifier failure")

// Nominal framing of the external model (a ~1s window sliding by half).
const (
	DefaultHop    = 0.48
	DefaultWindow = 0.96
)

// DefaultGroups maps each monitored event group to the raw model class-name
// substrings pooled into it (matched case-insensitively).
func DefaultGroups() map[detect.EventType][]string {
	return map[detect.EventType][]string{
		detect.EventBabyCry: {"baby cry", "infant cry"},
		detect.EventYell: {
			"shout", "yell", "scream", "bellow", "whoop", "crying, sobbing",
		},
		detect.EventLoudNoise: {
			"explosion", "bang", "thud", "slam", "crash", "gunshot", "glass",
		},
		detect.EventTalk: {
			"speech", "conversation", "narration", "monologue", "talking", "singing",
		},
	}
}

// ScoreStream is the normalized classifier output: for each monitored event
// group, one score in [0,1] per frame. Frame i starts at i*Hop and spans
// Window seconds. Streams are ephemeral; they are never persisted.
type ScoreStream struct {
	Hop    float64
	Window float64
	Scores map[detect.EventType][]float64
}

// Frames returns the frame count (identical across groups).
func (s *ScoreStream) Frames() int {
	for _, scores := range s.Scores {
		return len(scores)
	}
	return 0
}

// Series converts one group's scores into the merger's frame representation.
func (s *ScoreStream) Series(group detect.EventType) []detect.Frame {
	scores := s.Scores[group]
	frames := make([]detect.Frame, len(scores))
	for i, score := range scores {
		frames[i] = detect.Frame{Offset: float64(i) * s.Hop, Score: score}
	}
	return frames
}

// MaskSilence zeroes the scores of every frame whose midpoint falls outside
// the given active regions, so silent stretches are never scored against the
// detection thresholds.
func (s *ScoreStream) MaskSilence(active []silence.Interval) {
	n := s.Frames()
	for i := 0; i < n; i++ {
		mid := float64(i)*s.Hop + s.Window/2
		if inAnyInterval(mid, active) {
			continue
		}
		for _, scores := range s.Scores {
			if i < len(scores) {
				scores[i] = 0
			}
		}
	}
}

func inAnyInterval(t float64, ivs []silence.Interval) bool {
	for _, iv := range ivs {
		if iv.Start <= t && t <= iv.End {
			return true
		}
	}
	return false
}

// Classifier scores a 16 kHz mono waveform. Implementations must be
// deterministic for a given waveform.
type Classifier interface {
	Classify(ctx context.Context, samples []float64, sampleRate int) (*ScoreStream, error)
}

// PoolGroups max-pools raw per-class frame scores into monitored groups by
// case-insensitive substring match on the class display names. A group with
// no matching class scores zero everywhere.
func PoolGroups(classNames []string, frameScores [][]float64, groups map[detect.EventType][]string) map[detect.EventType][]float64 {
	idx := make(map[detect.EventType][]int, len(groups))
	for group, subs := range groups {
		for i, name := range classNames {
			lower := strings.ToLower(name)
			for _, sub := range subs {
				if strings.Contains(lower, sub) {
					idx[group] = append(idx[group], i)
					break
				}
			}
		}
	}

	pooled := make(map[detect.EventType][]float64, len(groups))
	for group := range groups {
		scores := make([]float64, len(frameScores))
		for f, frame := range frameScores {
			var peak float64
			for _, i := range idx[group] {
				if i < len(frame) && frame[i] > peak {
					peak = frame[i]
				}
			}
			scores[f] = peak
		}
		pooled[group] = scores
	}
	return pooled
}
