// Package detect reduces per-frame classifier score streams into discrete
// acoustic episodes and synthesizes composite alerts from co-occurring
// episode classes.
package detect

// EventType identifies one monitored acoustic event class.
type EventType string

const (
	EventBabyCry   EventType = "baby_cry"
	EventYell      EventType = "yell"
	EventLoudNoise EventType = "loud_noise"
	EventTalk      EventType = "talk"
	EventAbuse     EventType = "abuse" // cry + yell co-occurrence
)

// Severity grades an episode for alerting purposes.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Single-class severity boundaries on peak confidence.
const (
	highPeak   = 0.70
	mediumPeak = 0.45
)

// Composite (abuse) severity sub-thresholds.
const (
	highYellPeak = 0.55
	highCryPeak  = 0.40
)

// Frame is one classifier analysis window's score for a single class.
// Offset is seconds from the start of the recording; the frame spans
// [Offset, Offset+window).
type Frame struct {
	Offset float64
	Score  float64
}

// Episode is a merged, thresholded, minimum-duration-filtered time span for
// one event class. Immutable once produced.
type Episode struct {
	Type           EventType `json:"type"`
	Start          float64   `json:"start"`
	End            float64   `json:"end"`
	Severity       Severity  `json:"severity"`
	PeakConfidence float64   `json:"peak_confidence"`
	MeanConfidence float64   `json:"mean_confidence"`
	// PeakSecondary carries the peak cry confidence on composite episodes.
	PeakSecondary *float64 `json:"peak_secondary,omitempty"`
	FrameCount    int      `json:"frame_count"`
}

// Duration returns the episode length in seconds.
func (e Episode) Duration() float64 {
	return e.End - e.Start
}

func severityForPeak(peak float64) Severity {
	switch {
	case peak >= highPeak:
		return SeverityHigh
	case peak >= mediumPeak:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func severityForPair(peakYell, peakCry float64) Severity {
	switch {
	case peakYell >= highYellPeak && peakCry >= highCryPeak:
		return SeverityHigh
	case peakYell >= highYellPeak || peakCry >= highCryPeak:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
