package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cradlewatch/cradlewatch/internal/config"
	"github.com/cradlewatch/cradlewatch/internal/detect"
	"github.com/cradlewatch/cradlewatch/internal/silence"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleResult(fingerprint, date string, start time.Time) Result {
	secondary := 0.41
	return Result{
		Fingerprint:    fingerprint,
		Path:           "/recordings/video_0282_00_00_x.mp4",
		DeviceID:       "0282",
		RecStart:       start,
		RecEnd:         start.Add(90 * time.Second),
		DateLabel:      date,
		Status:         StatusOK,
		Duration:       90,
		SilentFraction: 0.25,
		Silence: silence.Map{
			Duration: 90,
			Silent:   []silence.Interval{{Start: 0, End: 22.5}},
			Active:   []silence.Interval{{Start: 22.5, End: 90}},
		},
		Episodes: []detect.Episode{
			{
				Type: detect.EventBabyCry, Start: 30, End: 34.5,
				Severity: detect.SeverityMedium, PeakConfidence: 0.52,
				MeanConfidence: 0.4, FrameCount: 8,
			},
			{
				Type: detect.EventAbuse, Start: 40, End: 48,
				Severity: detect.SeverityHigh, PeakConfidence: 0.7,
				MeanConfidence: 0.5, PeakSecondary: &secondary, FrameCount: 12,
			},
		},
		ProcessedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestPutGetRoundtrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	start := time.Date(2026, 2, 24, 19, 44, 18, 0, time.UTC)
	want := sampleResult("ab12cd34ef56ab12", "2026-02-24", start)
	require.NoError(t, s.Put(ctx, want))

	got, ok, err := s.Get(ctx, want.Fingerprint)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, want.Path, got.Path)
	assert.Equal(t, want.DeviceID, got.DeviceID)
	assert.True(t, want.RecStart.Equal(got.RecStart))
	assert.Equal(t, StatusOK, got.Status)
	assert.InDelta(t, want.SilentFraction, got.SilentFraction, 1e-9)
	assert.Equal(t, want.Silence, got.Silence)
	require.Len(t, got.Episodes, 2)
	assert.Equal(t, detect.EventBabyCry, got.Episodes[0].Type)
	assert.Nil(t, got.Episodes[0].PeakSecondary)
	require.NotNil(t, got.Episodes[1].PeakSecondary)
	assert.InDelta(t, 0.41, *got.Episodes[1].PeakSecondary, 1e-9)
	assert.Equal(t, detect.SeverityHigh, got.Episodes[1].Severity)
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.Get(context.Background(), "deadbeefdeadbeef")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutSupersedesEpisodes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 2, 24, 19, 0, 0, 0, time.UTC)

	first := sampleResult("ab12cd34ef56ab12", "2026-02-24", start)
	require.NoError(t, s.Put(ctx, first))

	second := first
	second.Episodes = []detect.Episode{{
		Type: detect.EventYell, Start: 5, End: 7,
		Severity: detect.SeverityLow, PeakConfidence: 0.3, MeanConfidence: 0.25, FrameCount: 4,
	}}
	require.NoError(t, s.Put(ctx, second))

	got, ok, err := s.Get(ctx, first.Fingerprint)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got.Episodes, 1)
	assert.Equal(t, detect.EventYell, got.Episodes[0].Type)
}

func TestListDatesAndRecordingsForDate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, sampleResult("aaaaaaaaaaaaaaaa", "2026-02-24",
		time.Date(2026, 2, 24, 19, 0, 0, 0, time.UTC))))
	require.NoError(t, s.Put(ctx, sampleResult("bbbbbbbbbbbbbbbb", "2026-02-24",
		time.Date(2026, 2, 24, 8, 0, 0, 0, time.UTC))))
	require.NoError(t, s.Put(ctx, sampleResult("cccccccccccccccc", "2026-02-25",
		time.Date(2026, 2, 25, 12, 0, 0, 0, time.UTC))))

	dates, err := s.ListDates(ctx)
	require.NoError(t, err)
	require.Len(t, dates, 2)
	assert.Equal(t, "2026-02-25", dates[0].Date)
	assert.Equal(t, 1, dates[0].Recordings)
	assert.Equal(t, 2, dates[0].Episodes)
	assert.Equal(t, "2026-02-24", dates[1].Date)
	assert.Equal(t, 2, dates[1].Recordings)
	assert.Equal(t, 4, dates[1].Episodes)

	recs, err := s.RecordingsForDate(ctx, "2026-02-24")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	// ordered by recording start, not insertion
	assert.Equal(t, "bbbbbbbbbbbbbbbb", recs[0].Fingerprint)
	assert.Equal(t, "aaaaaaaaaaaaaaaa", recs[1].Fingerprint)
	assert.Len(t, recs[0].Episodes, 2)
}

func TestStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, sampleResult("aaaaaaaaaaaaaaaa", "2026-02-24",
		time.Date(2026, 2, 24, 19, 0, 0, 0, time.UTC))))

	failed := sampleResult("bbbbbbbbbbbbbbbb", "2026-02-25",
		time.Date(2026, 2, 25, 19, 0, 0, 0, time.UTC))
	failed.Status = StatusError
	failed.ErrorMessage = "ffmpeg: unreadable input"
	failed.Episodes = nil
	require.NoError(t, s.Put(ctx, failed))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Recordings)
	assert.Equal(t, 1, st.Processed)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, 2, st.Dates)
	assert.Equal(t, 2, st.EpisodesTotal)
	assert.Equal(t, 1, st.EpisodesBy[string(detect.EventBabyCry)])
	assert.Equal(t, 1, st.EpisodesBy[string(detect.EventAbuse)])
}

func TestSettingsRoundtrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// first load before any save yields defaults
	got, err := s.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultSettings(), got)

	custom := config.DefaultSettings()
	custom.CryThreshold = 0.35
	custom.SuppressNested = false
	require.NoError(t, s.SaveSettings(ctx, custom))

	got, err = s.LoadSettings(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.35, got.CryThreshold, 1e-9)
	assert.False(t, got.SuppressNested)

	bad := config.DefaultSettings()
	bad.YellThreshold = -0.1
	assert.Error(t, s.SaveSettings(ctx, bad))
}
