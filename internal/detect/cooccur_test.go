package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ep(start, end, peak, mean float64) Episode {
	return Episode{Start: start, End: end, PeakConfidence: peak, MeanConfidence: mean, FrameCount: 1}
}

func TestDetectAbuseEmpty(t *testing.T) {
	assert.Empty(t, DetectAbuse(nil, nil, CoOccurOptions{}))
	assert.Empty(t, DetectAbuse([]Episode{ep(0, 1, 0.5, 0.4)}, nil, CoOccurOptions{}))
	assert.Empty(t, DetectAbuse(nil, []Episode{ep(0, 1, 0.5, 0.4)}, CoOccurOptions{}))
}

func TestDetectAbuseStartProximity(t *testing.T) {
	cry := []Episode{ep(10.0, 12.0, 0.45, 0.40)}
	yell := []Episode{ep(12.5, 14.0, 0.60, 0.50)}

	got := DetectAbuse(cry, yell, CoOccurOptions{Window: 3, SuppressNested: true})
	require.Len(t, got, 1)

	comp := got[0]
	assert.Equal(t, EventAbuse, comp.Type)
	assert.InDelta(t, 10.0, comp.Start, 1e-9)
	assert.InDelta(t, 14.0, comp.End, 1e-9)
	assert.InDelta(t, 0.60, comp.PeakConfidence, 1e-9)
	require.NotNil(t, comp.PeakSecondary)
	assert.InDelta(t, 0.45, *comp.PeakSecondary, 1e-9)
	// yell peak >= 0.55 and cry peak >= 0.40
	assert.Equal(t, SeverityHigh, comp.Severity)
}

func TestDetectAbuseOverlapBeyondWindow(t *testing.T) {
	// Starts are 10s apart (outside the window) but the spans overlap.
	cry := []Episode{ep(0.0, 12.0, 0.30, 0.25)}
	yell := []Episode{ep(10.0, 15.0, 0.40, 0.35)}

	got := DetectAbuse(cry, yell, CoOccurOptions{Window: 3})
	require.Len(t, got, 1)
	assert.InDelta(t, 0.0, got[0].Start, 1e-9)
	assert.InDelta(t, 15.0, got[0].End, 1e-9)
	assert.Equal(t, SeverityLow, got[0].Severity)
}

func TestDetectAbuseNoMatch(t *testing.T) {
	cry := []Episode{ep(0.0, 1.0, 0.5, 0.4)}
	yell := []Episode{ep(20.0, 21.0, 0.5, 0.4)}
	assert.Empty(t, DetectAbuse(cry, yell, CoOccurOptions{Window: 3}))
}

func TestDetectAbuseSymmetry(t *testing.T) {
	cry := []Episode{ep(1.0, 3.0, 0.5, 0.4), ep(8.0, 9.0, 0.6, 0.5)}
	yell := []Episode{ep(2.0, 4.0, 0.7, 0.6), ep(30.0, 31.0, 0.9, 0.8)}

	forward := DetectAbuse(cry, yell, CoOccurOptions{Window: 3, SuppressNested: true})
	reversed := DetectAbuse(yell, cry, CoOccurOptions{Window: 3, SuppressNested: true})

	require.Equal(t, len(forward), len(reversed))
	for i := range forward {
		assert.InDelta(t, forward[i].Start, reversed[i].Start, 1e-9)
		assert.InDelta(t, forward[i].End, reversed[i].End, 1e-9)
		assert.InDelta(t, forward[i].PeakConfidence, reversed[i].PeakConfidence, 1e-9)
	}
}

func TestDetectAbuseSuppressionPolicy(t *testing.T) {
	// One cry overlaps two distinct yells: two raw pairs, the wider of
	// which fully contains the narrower.
	cry := []Episode{ep(0.0, 6.0, 0.5, 0.4)}
	yell := []Episode{
		ep(1.0, 2.0, 0.6, 0.5),
		ep(5.0, 18.0, 0.7, 0.6),
	}

	all := DetectAbuse(cry, yell, CoOccurOptions{Window: 3, SuppressNested: false})
	require.Len(t, all, 2)

	suppressed := DetectAbuse(cry, yell, CoOccurOptions{Window: 3, SuppressNested: true})
	require.Len(t, suppressed, 1)
	assert.InDelta(t, 0.0, suppressed[0].Start, 1e-9)
	assert.InDelta(t, 6.0, suppressed[0].End, 1e-9)
}

func TestDetectAbuseOrderedOutput(t *testing.T) {
	cry := []Episode{ep(50.0, 52.0, 0.5, 0.4), ep(1.0, 2.0, 0.5, 0.4)}
	yell := []Episode{ep(51.0, 53.0, 0.5, 0.4), ep(2.5, 3.5, 0.5, 0.4)}

	got := DetectAbuse(cry, yell, CoOccurOptions{Window: 3, SuppressNested: true})
	require.Len(t, got, 2)
	assert.Less(t, got[0].Start, got[1].Start)
}

func TestDetectAbuseDefaultWindow(t *testing.T) {
	cry := []Episode{ep(0.0, 1.0, 0.5, 0.4)}
	yell := []Episode{ep(2.9, 4.0, 0.5, 0.4)}
	assert.Len(t, DetectAbuse(cry, yell, CoOccurOptions{}), 1)

	far := []Episode{ep(3.1, 4.0, 0.5, 0.4)}
	assert.Empty(t, DetectAbuse(cry, far, CoOccurOptions{}))
}
