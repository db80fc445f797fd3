package scan

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	xlog "github.com/cradlewatch/cradlewatch/internal/log"
)

// Filter is the configured working window: which weekdays and which
// start-time hours make a recording eligible for processing.
type Filter struct {
	// Weekdays holds eligible days. Empty means every day.
	Weekdays []time.Weekday
	// StartMinute/EndMinute bound the recording's start time of day, in
	// minutes since midnight, inclusive. EndMinute zero means end of day.
	StartMinute int
	EndMinute   int
}

// DefaultFilter matches the household's working week: Sunday through
// Thursday, all day.
func DefaultFilter() Filter {
	return Filter{
		Weekdays: []time.Weekday{
			time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
		},
		StartMinute: 0,
		EndMinute:   23*60 + 59,
	}
}

func (f Filter) allowsWeekday(d time.Weekday) bool {
	if len(f.Weekdays) == 0 {
		return true
	}
	for _, w := range f.Weekdays {
		if w == d {
			return true
		}
	}
	return false
}

func (f Filter) allowsTime(t time.Time) bool {
	end := f.EndMinute
	if end == 0 {
		end = 23*60 + 59
	}
	minute := t.Hour()*60 + t.Minute()
	return minute >= f.StartMinute && minute <= end
}

// Report summarises what a scan found and why candidates were skipped.
type Report struct {
	Source         string `json:"source"`
	TotalFiles     int    `json:"total_files"`
	Matched        int    `json:"matched"`
	SkippedPattern int    `json:"skipped_pattern"`
	SkippedWeekday int    `json:"skipped_weekday"`
	SkippedHours   int    `json:"skipped_hours"`
	Accepted       int    `json:"accepted"`
}

// Scanner enumerates candidate recordings from a file or directory.
type Scanner struct {
	Filter     Filter
	Extensions []string // defaults to .mp4 only
}

// Scan returns accepted recordings sorted by start time, along with a report
// of everything that was skipped. Source may be a single file or a directory
// (walked recursively). Nothing under source is ever opened or modified.
func (s *Scanner) Scan(source string) ([]Recording, Report, error) {
	logger := xlog.WithComponent("scan")

	info, err := os.Stat(source)
	if err != nil {
		return nil, Report{}, fmt.Errorf("scan %s: %w", source, err)
	}

	var candidates []string
	if info.IsDir() {
		exts := s.Extensions
		if len(exts) == 0 {
			exts = []string{".mp4"}
		}
		err = filepath.WalkDir(source, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			for _, want := range exts {
				if ext == want {
					candidates = append(candidates, path)
					break
				}
			}
			return nil
		})
		if err != nil {
			return nil, Report{}, fmt.Errorf("walk %s: %w", source, err)
		}
	} else {
		candidates = []string{source}
	}
	sort.Strings(candidates)

	report := Report{Source: source, TotalFiles: len(candidates)}
	var accepted []Recording

	for _, path := range candidates {
		rec, err := ParseFilename(path)
		if err != nil {
			report.SkippedPattern++
			logger.Debug().
				Str(xlog.FieldPath, path).
				Str(xlog.FieldEvent, "scan.skip_pattern").
				Msg("filename does not match camera pattern")
			continue
		}
		report.Matched++

		if !s.Filter.allowsWeekday(rec.Start.Weekday()) {
			report.SkippedWeekday++
			continue
		}
		if !s.Filter.allowsTime(rec.Start) {
			report.SkippedHours++
			continue
		}

		accepted = append(accepted, rec)
	}

	sort.Slice(accepted, func(i, j int) bool { return accepted[i].Start.Before(accepted[j].Start) })
	report.Accepted = len(accepted)

	logger.Info().
		Str(xlog.FieldEvent, "scan.done").
		Str("source", source).
		Int("total", report.TotalFiles).
		Int("matched", report.Matched).
		Int("skipped_pattern", report.SkippedPattern).
		Int("skipped_weekday", report.SkippedWeekday).
		Int("skipped_hours", report.SkippedHours).
		Int("accepted", report.Accepted).
		Msg("scan complete")

	return accepted, report, nil
}
