package config

import "fmt"

// Settings is the runtime-tunable settings record: per-class detection
// parameters and the working-window filter. It is persisted in the result
// store and editable over the API; unset fields fall back to defaults.
type Settings struct {
	// Per-class frame score thresholds.
	CryThreshold   float64 `json:"cry_threshold"`
	YellThreshold  float64 `json:"yell_threshold"`
	NoiseThreshold float64 `json:"noise_threshold"`
	TalkThreshold  float64 `json:"talk_threshold"`

	// Episode shaping.
	CoWindow         float64 `json:"co_window"`          // seconds; cry+yell proximity for abuse
	MergeGap         float64 `json:"merge_gap"`          // seconds
	MinEventDuration float64 `json:"min_event_duration"` // seconds
	SuppressNested   bool    `json:"suppress_nested"`    // drop composites containing earlier ones

	// Silence mapping.
	SilenceDB          float64 `json:"silence_db"`        // dBFS
	MinSilenceDuration float64 `json:"min_silence_dur"`   // seconds
	MinActiveDuration  float64 `json:"min_active_dur"`    // seconds

	// Working window. Weekdays use Go numbering (0=Sunday .. 6=Saturday).
	WorkDays   []int  `json:"work_days"`
	HoursStart string `json:"hours_start"` // "HH:MM"
	HoursEnd   string `json:"hours_end"`   // "HH:MM"
}

// DefaultSettings returns the stock tuning.
func DefaultSettings() Settings {
	return Settings{
		CryThreshold:       0.25,
		YellThreshold:      0.20,
		NoiseThreshold:     0.30,
		TalkThreshold:      0.40,
		CoWindow:           2.0,
		MergeGap:           1.5,
		MinEventDuration:   0.5,
		SuppressNested:     true,
		SilenceDB:          -45.0,
		MinSilenceDuration: 1.0,
		MinActiveDuration:  0.5,
		WorkDays:           []int{0, 1, 2, 3, 4}, // Sunday through Thursday
		HoursStart:         "00:00",
		HoursEnd:           "23:59",
	}
}

// MergeDefaults fills zero-valued fields of s from the defaults, so settings
// saved by older versions keep working when new knobs appear.
func (s Settings) MergeDefaults() Settings {
	d := DefaultSettings()
	if s.CryThreshold == 0 {
		s.CryThreshold = d.CryThreshold
	}
	if s.YellThreshold == 0 {
		s.YellThreshold = d.YellThreshold
	}
	if s.NoiseThreshold == 0 {
		s.NoiseThreshold = d.NoiseThreshold
	}
	if s.TalkThreshold == 0 {
		s.TalkThreshold = d.TalkThreshold
	}
	if s.CoWindow == 0 {
		s.CoWindow = d.CoWindow
	}
	if s.MergeGap == 0 {
		s.MergeGap = d.MergeGap
	}
	if s.MinEventDuration == 0 {
		s.MinEventDuration = d.MinEventDuration
	}
	if s.SilenceDB == 0 {
		s.SilenceDB = d.SilenceDB
	}
	if s.MinSilenceDuration == 0 {
		s.MinSilenceDuration = d.MinSilenceDuration
	}
	if s.MinActiveDuration == 0 {
		s.MinActiveDuration = d.MinActiveDuration
	}
	if len(s.WorkDays) == 0 {
		s.WorkDays = append([]int(nil), d.WorkDays...)
	}
	if s.HoursStart == "" {
		s.HoursStart = d.HoursStart
	}
	if s.HoursEnd == "" {
		s.HoursEnd = d.HoursEnd
	}
	return s
}

// Validate rejects settings that would make detection meaningless.
func (s Settings) Validate() error {
	for name, v := range map[string]float64{
		"cry_threshold":   s.CryThreshold,
		"yell_threshold":  s.YellThreshold,
		"noise_threshold": s.NoiseThreshold,
		"talk_threshold":  s.TalkThreshold,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("settings: %s %v outside [0,1]", name, v)
		}
	}
	if s.MergeGap < 0 || s.MinEventDuration < 0 || s.CoWindow < 0 {
		return fmt.Errorf("settings: durations must not be negative")
	}
	if s.SilenceDB > 0 {
		return fmt.Errorf("settings: silence_db must be a negative dBFS value")
	}
	for _, d := range s.WorkDays {
		if d < 0 || d > 6 {
			return fmt.Errorf("settings: work day %d outside 0..6", d)
		}
	}
	return nil
}
