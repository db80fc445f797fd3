package detect

import (
	"math"
	"sort"
)

// CoOccurOptions tune the cross-class co-occurrence rule.
type CoOccurOptions struct {
	// Window is the maximum distance in seconds between a cry start and a
	// yell start for the pair to qualify. Zero means DefaultCoOccurWindow.
	Window float64
	// SuppressNested drops composites whose span fully contains an
	// already-emitted composite, so one crisis window raises one alert.
	SuppressNested bool
}

// DefaultCoOccurWindow is the start-proximity window in seconds.
const DefaultCoOccurWindow = 3.0

// DetectAbuse cross-references independently merged cry and yell episode sets
// and synthesizes a composite abuse episode for every qualifying pair: the two
// spans overlap, or their starts lie within opts.Window seconds of each other.
// The composite spans the union of the pair. The rule is symmetric in its two
// arguments.
func DetectAbuse(cry, yell []Episode, opts CoOccurOptions) []Episode {
	window := opts.Window
	if window <= 0 {
		window = DefaultCoOccurWindow
	}

	var raw []Episode
	for _, c := range cry {
		for _, y := range yell {
			if !pairQualifies(c, y, window) {
				continue
			}
			raw = append(raw, composite(c, y))
		}
	}
	if len(raw) == 0 {
		return nil
	}

	kept := raw
	if opts.SuppressNested {
		// Narrower spans first so a broad composite meets its contained
		// composites before the containment check.
		sort.SliceStable(raw, func(i, j int) bool {
			return raw[i].Duration() < raw[j].Duration()
		})
		kept = make([]Episode, 0, len(raw))
		for _, cand := range raw {
			if containsAny(cand, kept) {
				continue
			}
			kept = append(kept, cand)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Start != kept[j].Start {
			return kept[i].Start < kept[j].Start
		}
		return kept[i].End < kept[j].End
	})
	return kept
}

func pairQualifies(c, y Episode, window float64) bool {
	if math.Abs(c.Start-y.Start) <= window {
		return true
	}
	return c.Start < y.End && y.Start < c.End
}

func composite(c, y Episode) Episode {
	start := math.Min(c.Start, y.Start)
	end := math.Max(c.End, y.End)
	secondary := c.PeakConfidence
	return Episode{
		Type:           EventAbuse,
		Start:          start,
		End:            end,
		Severity:       severityForPair(y.PeakConfidence, c.PeakConfidence),
		PeakConfidence: math.Max(c.PeakConfidence, y.PeakConfidence),
		MeanConfidence: (c.MeanConfidence + y.MeanConfidence) / 2,
		PeakSecondary:  &secondary,
		FrameCount:     c.FrameCount + y.FrameCount,
	}
}

// containsAny reports whether cand's span fully contains any episode in kept.
func containsAny(cand Episode, kept []Episode) bool {
	for _, e := range kept {
		if cand.Start <= e.Start && cand.End >= e.End {
			return true
		}
	}
	return false
}
