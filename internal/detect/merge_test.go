package detect

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const window = 0.96

func params(threshold, gap, minDur float64) MergeParams {
	return MergeParams{Threshold: threshold, MergeGap: gap, MinDuration: minDur, Window: window}
}

func TestMergeEmptyInputs(t *testing.T) {
	assert.Empty(t, Merge(nil, EventBabyCry, params(0.25, 1.0, 0.5)))
	assert.Empty(t, Merge([]Frame{}, EventBabyCry, params(0.25, 1.0, 0.5)))
}

func TestMergeImpossibleThreshold(t *testing.T) {
	frames := []Frame{
		{Offset: 0.0, Score: 1.0},
		{Offset: 0.48, Score: 0.99},
		{Offset: 0.96, Score: 1.0},
	}
	// Scores live in [0,1], so a threshold above 1 can never select a frame.
	assert.Empty(t, Merge(frames, EventYell, params(1.1, 1.0, 0.0)))
}

func TestMergeBridgesSubThresholdFrame(t *testing.T) {
	frames := []Frame{
		{Offset: 0.0, Score: 0.30},
		{Offset: 0.48, Score: 0.40},
		{Offset: 0.96, Score: 0.10}, // below threshold, bridged by the gap rule
		{Offset: 1.44, Score: 0.35},
	}
	got := Merge(frames, EventBabyCry, params(0.25, 1.0, 0.5))
	require.Len(t, got, 1)

	ep := got[0]
	assert.InDelta(t, 0.0, ep.Start, 1e-9)
	assert.InDelta(t, 1.44+window, ep.End, 1e-9)
	assert.InDelta(t, 0.40, ep.PeakConfidence, 1e-9)
	assert.InDelta(t, (0.30+0.40+0.35)/3, ep.MeanConfidence, 1e-9)
	assert.Equal(t, 3, ep.FrameCount)
	assert.Equal(t, EventBabyCry, ep.Type)
}

func TestMergeSplitsOnLargeGap(t *testing.T) {
	frames := []Frame{
		{Offset: 0.0, Score: 0.8},
		{Offset: 5.0, Score: 0.9},
	}
	got := Merge(frames, EventLoudNoise, params(0.5, 1.0, 0.5))
	require.Len(t, got, 2)
	assert.InDelta(t, 0.0, got[0].Start, 1e-9)
	assert.InDelta(t, window, got[0].End, 1e-9)
	assert.InDelta(t, 5.0, got[1].Start, 1e-9)
}

func TestMergeDropsShortEpisodes(t *testing.T) {
	frames := []Frame{{Offset: 2.4, Score: 0.95}}
	// A lone frame spans only one window; with MinDuration above the window
	// it is dropped even though it is the only detection.
	got := Merge(frames, EventYell, params(0.5, 1.0, window+0.1))
	assert.Empty(t, got)
}

func TestMergeEpisodeInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	frames := make([]Frame, 200)
	for i := range frames {
		frames[i] = Frame{Offset: float64(i) * 0.48, Score: rng.Float64()}
	}

	p := params(0.6, 1.5, 0.5)
	for _, ep := range Merge(frames, EventTalk, p) {
		assert.GreaterOrEqual(t, ep.Duration(), p.MinDuration)
		assert.GreaterOrEqual(t, ep.PeakConfidence, ep.MeanConfidence)
		assert.GreaterOrEqual(t, ep.MeanConfidence, p.Threshold)
		assert.Positive(t, ep.FrameCount)
	}
}

func TestMergeGapMonotonicity(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	frames := make([]Frame, 300)
	for i := range frames {
		frames[i] = Frame{Offset: float64(i) * 0.48, Score: rng.Float64()}
	}

	covered := func(eps []Episode) float64 {
		var total float64
		for _, e := range eps {
			total += e.Duration()
		}
		return total
	}

	prevCount := -1
	prevCovered := -1.0
	for _, gap := range []float64{0.0, 0.5, 1.0, 2.0, 4.0, 8.0} {
		eps := Merge(frames, EventYell, params(0.7, gap, 0.0))
		if prevCount >= 0 {
			assert.LessOrEqual(t, len(eps), prevCount, "gap=%v", gap)
			assert.GreaterOrEqual(t, covered(eps)+1e-9, prevCovered, "gap=%v", gap)
		}
		prevCount = len(eps)
		prevCovered = covered(eps)
	}
}

func TestMergeDeterminism(t *testing.T) {
	frames := []Frame{
		{Offset: 0.0, Score: 0.5},
		{Offset: 0.48, Score: 0.7},
		{Offset: 3.0, Score: 0.9},
		{Offset: 3.48, Score: 0.2},
	}
	p := params(0.4, 1.0, 0.5)
	first := Merge(frames, EventBabyCry, p)
	second := Merge(frames, EventBabyCry, p)
	assert.Empty(t, cmp.Diff(first, second))
}

func TestMergeSeverity(t *testing.T) {
	cases := []struct {
		score float64
		want  Severity
	}{
		{0.30, SeverityLow},
		{0.50, SeverityMedium},
		{0.80, SeverityHigh},
	}
	for _, tc := range cases {
		got := Merge([]Frame{{Offset: 0, Score: tc.score}}, EventYell, params(0.2, 1.0, 0.0))
		require.Len(t, got, 1)
		assert.Equal(t, tc.want, got[0].Severity, "score=%v", tc.score)
	}
}
