package detect

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// MergeParams control how a class's frame scores are reduced to episodes.
// Each monitored class carries its own values.
type MergeParams struct {
	Threshold   float64 // minimum frame score to flag a frame
	MergeGap    float64 // seconds; gaps up to this between flagged frames are bridged
	MinDuration float64 // seconds; shorter episodes are discarded
	Window      float64 // seconds; span of one analysis frame
}

// Merge reduces a class's frame score stream to an ordered list of episodes.
//
// Frames with score >= Threshold are flagged; a flagged frame spans
// [Offset, Offset+Window). Consecutive flagged frames are merged while the gap
// between the previous frame's end and the next frame's start is at most
// MergeGap. Episodes shorter than MinDuration are dropped. The result is a
// pure function of the input: no randomness, no hidden state.
func Merge(frames []Frame, eventType EventType, p MergeParams) []Episode {
	flagged := make([]Frame, 0, len(frames))
	for _, f := range frames {
		if f.Score >= p.Threshold {
			flagged = append(flagged, f)
		}
	}
	if len(flagged) == 0 {
		return nil
	}
	sort.SliceStable(flagged, func(i, j int) bool { return flagged[i].Offset < flagged[j].Offset })

	var episodes []Episode
	start := flagged[0].Offset
	end := flagged[0].Offset + p.Window
	scores := []float64{flagged[0].Score}

	flush := func() {
		if end-start < p.MinDuration {
			return
		}
		peak := scores[0]
		for _, s := range scores[1:] {
			if s > peak {
				peak = s
			}
		}
		episodes = append(episodes, Episode{
			Type:           eventType,
			Start:          start,
			End:            end,
			Severity:       severityForPeak(peak),
			PeakConfidence: peak,
			MeanConfidence: stat.Mean(scores, nil),
			FrameCount:     len(scores),
		})
	}

	for _, f := range flagged[1:] {
		prevEnd := end
		if f.Offset-prevEnd <= p.MergeGap {
			if fe := f.Offset + p.Window; fe > end {
				end = fe
			}
			scores = append(scores, f.Score)
			continue
		}
		flush()
		start = f.Offset
		end = f.Offset + p.Window
		scores = []float64{f.Score}
	}
	flush()

	return episodes
}
