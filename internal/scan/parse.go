// Package scan discovers candidate recordings on disk: it parses camera
// filenames for wall-clock metadata and filters by the configured working
// window. It is strictly read-only with respect to the source tree.
package scan

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"time"
)

// ErrPatternMismatch marks a file whose name does not match the camera
// filename scheme. Such files are skipped, never treated as errors.
var ErrPatternMismatch = errors.New("scan: filename does not match camera pattern")

// Camera filenames look like:
//
//	video_0282_0_10_20260224194418_20260224200356.mp4
//
// prefix, device id, two counters, then start and end timestamps as
// YYYYMMDDHHmmss in local time.
var filenameRE = regexp.MustCompile(`(?i)^video_(\w+)_\d+_\d+_(\d{14})_(\d{14})\.mp4$`)

const timestampLayout = "20060102150405"

// Recording identifies one physical media file with its wall-clock span.
// Immutable once created.
type Recording struct {
	Path     string
	DeviceID string
	Start    time.Time
	End      time.Time
}

// Duration returns the recording's nominal wall-clock length.
func (r Recording) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// DateLabel returns the YYYY-MM-DD grouping key for queries.
func (r Recording) DateLabel() string {
	return r.Start.Format("2006-01-02")
}

// ParseFilename extracts recording metadata from a camera file path.
// Returns ErrPatternMismatch when the base name does not match the scheme;
// the file itself is never opened.
func ParseFilename(path string) (Recording, error) {
	m := filenameRE.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return Recording{}, ErrPatternMismatch
	}

	start, err := time.ParseInLocation(timestampLayout, m[2], time.Local)
	if err != nil {
		return Recording{}, fmt.Errorf("%w: bad start timestamp %q", ErrPatternMismatch, m[2])
	}
	end, err := time.ParseInLocation(timestampLayout, m[3], time.Local)
	if err != nil {
		return Recording{}, fmt.Errorf("%w: bad end timestamp %q", ErrPatternMismatch, m[3])
	}
	if !end.After(start) {
		return Recording{}, fmt.Errorf("%w: end %s not after start %s", ErrPatternMismatch, m[3], m[2])
	}

	return Recording{Path: path, DeviceID: m[1], Start: start, End: end}, nil
}
