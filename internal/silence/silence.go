// Package silence maps low-energy regions of a waveform. The result drives
// both UI skip-logic and classifier frame gating: frames inside silent
// regions are never scored.
package silence

import (
	"math"
	"sort"
)

// Defaults mirror the tuning the detector ships with.
const (
	DefaultFrameLen    = 0.05  // seconds per RMS frame
	DefaultHopLen      = 0.025 // seconds per hop
	DefaultDBThreshold = -45.0 // dBFS below which a frame is silent
	DefaultMinSilence  = 1.0   // seconds; shorter silent stretches are ignored
	DefaultMinActive   = 0.5   // seconds; shorter active stretches are absorbed
)

// Interval is one contiguous time span, half-open in spirit but stored with
// inclusive bounds in seconds. End > Start always holds.
type Interval struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Map is the result of silence detection over one waveform. Silent and Active
// partition [0, Duration]; both are sorted ascending and non-overlapping.
type Map struct {
	Duration float64    `json:"duration"`
	Silent   []Interval `json:"silent"`
	Active   []Interval `json:"active"`
}

// IsSilent reports whether timestamp t (seconds) falls in a silent region.
func (m *Map) IsSilent(t float64) bool {
	for _, iv := range m.Silent {
		if iv.Start <= t && t <= iv.End {
			return true
		}
	}
	return false
}

// SilentFraction returns the fraction of the total duration that is silent.
func (m *Map) SilentFraction() float64 {
	if m.Duration <= 0 {
		return 0
	}
	var total float64
	for _, iv := range m.Silent {
		total += iv.End - iv.Start
	}
	return total / m.Duration
}

// Params tune silence detection.
type Params struct {
	FrameLen    float64 // RMS analysis window in seconds
	HopLen      float64 // hop between windows in seconds
	DBThreshold float64 // frames below this dBFS level are silent
	MinSilence  float64 // minimum silent segment duration to keep
	MinActive   float64 // active segments shorter than this are absorbed into silence
}

// DefaultParams returns the stock tuning.
func DefaultParams() Params {
	return Params{
		FrameLen:    DefaultFrameLen,
		HopLen:      DefaultHopLen,
		DBThreshold: DefaultDBThreshold,
		MinSilence:  DefaultMinSilence,
		MinActive:   DefaultMinActive,
	}
}

// FromEnergies builds a silence map from per-frame RMS energies (linear,
// relative to full scale). Frame i starts at i*hop. Adjacent silent frames
// merge with zero gap tolerance: silence interrupted by even one loud frame
// stays split, unlike event merging.
func FromEnergies(energies []float64, hop, duration float64, p Params) Map {
	if len(energies) == 0 {
		// Too short to analyse: treat the whole clip as active.
		m := Map{Duration: duration}
		if duration > 0 {
			m.Active = []Interval{{Start: 0, End: duration}}
		}
		return m
	}

	silentFrame := make([]bool, len(energies))
	for i, e := range energies {
		db := 20.0 * math.Log10(e+1e-10)
		silentFrame[i] = db < p.DBThreshold
	}

	var raw []Interval
	inSilence := false
	segStart := 0.0
	for i, silent := range silentFrame {
		t := float64(i) * hop
		switch {
		case silent && !inSilence:
			inSilence = true
			segStart = t
		case !silent && inSilence:
			inSilence = false
			raw = append(raw, Interval{Start: segStart, End: t})
		}
	}
	if inSilence {
		raw = append(raw, Interval{Start: segStart, End: float64(len(energies)) * hop})
	}

	silent := filterShort(raw, p.MinSilence)
	active := invert(silent, duration)
	// Short active blips inside silence are swallowed.
	active = filterShort(active, p.MinActive)
	silent = invert(active, duration)

	return Map{Duration: duration, Silent: silent, Active: active}
}

func filterShort(regions []Interval, minDur float64) []Interval {
	out := regions[:0:0]
	for _, iv := range regions {
		if iv.End-iv.Start >= minDur {
			out = append(out, iv)
		}
	}
	return out
}

// invert returns the complement of regions within [0, duration].
func invert(regions []Interval, duration float64) []Interval {
	sorted := append([]Interval(nil), regions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	var out []Interval
	prev := 0.0
	for _, iv := range sorted {
		if prev < iv.Start {
			out = append(out, Interval{Start: prev, End: iv.Start})
		}
		prev = iv.End
	}
	if prev < duration {
		out = append(out, Interval{Start: prev, End: duration})
	}
	return out
}
