package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cradlewatch/cradlewatch/internal/classify"
	"github.com/cradlewatch/cradlewatch/internal/config"
	"github.com/cradlewatch/cradlewatch/internal/detect"
	"github.com/cradlewatch/cradlewatch/internal/export"
	"github.com/cradlewatch/cradlewatch/internal/pipeline"
	"github.com/cradlewatch/cradlewatch/internal/silence"
	"github.com/cradlewatch/cradlewatch/internal/store"
)

type stubAudio struct{}

func (stubAudio) Waveform(context.Context, string) ([]float64, int, error) {
	samples := make([]float64, 16000)
	for i := range samples {
		samples[i] = 0.5
	}
	return samples, 16000, nil
}

type stubClassifier struct{ gate chan struct{} }

func (c *stubClassifier) Classify(ctx context.Context, _ []float64, _ int) (*classify.ScoreStream, error) {
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &classify.ScoreStream{
		Hop:    classify.DefaultHop,
		Window: classify.DefaultWindow,
		Scores: map[detect.EventType][]float64{detect.EventBabyCry: {0.5, 0.6}},
	}, nil
}

type fixture struct {
	server    *Server
	store     *store.Store
	videoRoot string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	videoRoot := t.TempDir()
	progress := pipeline.NewBroadcaster()
	orch := &pipeline.Orchestrator{
		Store:      s,
		Classifier: &stubClassifier{},
		Audio:      stubAudio{},
		Progress:   progress,
		Source:     videoRoot,
	}

	ffmpegStub := filepath.Join(t.TempDir(), "ffmpeg-stub")
	script := "#!/bin/sh\nfor last; do :; done\necho clip > \"$last\"\n"
	require.NoError(t, os.WriteFile(ffmpegStub, []byte(script), 0o755))

	srv := New(Options{
		ListenAddr:   ":0",
		Store:        s,
		Orchestrator: orch,
		Progress:     progress,
		Exporter:     export.New(ffmpegStub, filepath.Join(videoRoot, "exports")),
		VideoRoot:    videoRoot,
	})
	return &fixture{server: srv, store: s, videoRoot: videoRoot}
}

func (f *fixture) seedResult(t *testing.T) store.Result {
	t.Helper()
	videoPath := filepath.Join(f.videoRoot, "video_0282_00_00_20260224194418_20260224194608.mp4")
	require.NoError(t, os.WriteFile(videoPath, []byte("stub media"), 0o600))

	start := time.Date(2026, 2, 24, 19, 44, 18, 0, time.UTC)
	r := store.Result{
		Fingerprint: "ab12cd34ef56ab12",
		Path:        videoPath,
		DeviceID:    "0282",
		RecStart:    start,
		RecEnd:      start.Add(110 * time.Second),
		DateLabel:   "2026-02-24",
		Status:      store.StatusOK,
		Duration:    110,
		Silence: silence.Map{
			Duration: 110,
			Active:   []silence.Interval{{Start: 0, End: 110}},
		},
		Episodes: []detect.Episode{{
			Type: detect.EventBabyCry, Start: 10, End: 14,
			Severity: detect.SeverityMedium, PeakConfidence: 0.5, MeanConfidence: 0.4, FrameCount: 8,
		}},
		ProcessedAt: time.Now().UTC(),
	}
	require.NoError(t, f.store.Put(context.Background(), r))
	return r
}

func doJSON(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := doJSON(t, f.server.Router(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDatesEmpty(t *testing.T) {
	f := newFixture(t)
	rec := doJSON(t, f.server.Router(), http.MethodGet, "/api/dates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestDatesAndDateDetail(t *testing.T) {
	f := newFixture(t)
	f.seedResult(t)
	router := f.server.Router()

	rec := doJSON(t, router, http.MethodGet, "/api/dates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var dates []store.DateSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dates))
	require.Len(t, dates, 1)
	assert.Equal(t, "2026-02-24", dates[0].Date)
	assert.Equal(t, 1, dates[0].Episodes)

	rec = doJSON(t, router, http.MethodGet, "/api/dates/2026-02-24", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var results []store.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "0282", results[0].DeviceID)
	require.Len(t, results[0].Episodes, 1)

	rec = doJSON(t, router, http.MethodGet, "/api/dates/2026-02-25", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/dates/not-a-date", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	f.seedResult(t)

	rec := doJSON(t, f.server.Router(), http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats store.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Recordings)
	assert.Equal(t, 1, stats.EpisodesBy["baby_cry"])
}

func TestSettingsRoundtrip(t *testing.T) {
	f := newFixture(t)
	router := f.server.Router()

	rec := doJSON(t, router, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got config.Settings
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.InDelta(t, 0.25, got.CryThreshold, 1e-9)

	got.CryThreshold = 0.4
	rec = doJSON(t, router, http.MethodPut, "/api/settings", got)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.InDelta(t, 0.4, got.CryThreshold, 1e-9)

	got.YellThreshold = 3
	rec = doJSON(t, router, http.MethodPut, "/api/settings", got)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcessConflictWhileRunning(t *testing.T) {
	f := newFixture(t)
	gate := make(chan struct{})
	f.server.opts.Orchestrator.Classifier = &stubClassifier{gate: gate}
	videoPath := filepath.Join(f.videoRoot, "video_0282_00_00_20260224194418_20260224194608.mp4")
	require.NoError(t, os.WriteFile(videoPath, []byte("stub media"), 0o600))
	router := f.server.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/process", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, f.server.opts.Orchestrator.Running, 2*time.Second, 10*time.Millisecond)

	rec = doJSON(t, router, http.MethodPost, "/api/process", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(gate)
	require.Eventually(t, func() bool { return !f.server.opts.Orchestrator.Running() },
		2*time.Second, 10*time.Millisecond)
}

func TestProcessClaimsRunBeforeReplying(t *testing.T) {
	f := newFixture(t)
	gate := make(chan struct{})
	f.server.opts.Orchestrator.Classifier = &stubClassifier{gate: gate}
	videoPath := filepath.Join(f.videoRoot, "video_0282_00_00_20260224194418_20260224194608.mp4")
	require.NoError(t, os.WriteFile(videoPath, []byte("stub media"), 0o600))
	router := f.server.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/process", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	// the run slot is claimed before the 202 is written, so a start racing
	// the first sees the conflict immediately, with no settling window
	assert.True(t, f.server.opts.Orchestrator.Running())
	rec = doJSON(t, router, http.MethodPost, "/api/process", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(gate)
	require.Eventually(t, func() bool { return !f.server.opts.Orchestrator.Running() },
		2*time.Second, 10*time.Millisecond)
}

func TestProcessStatusStream(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.server.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/process/status", nil)
	require.NoError(t, err)

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: status", strings.TrimSpace(line))
}

func TestVideoConfinement(t *testing.T) {
	f := newFixture(t)
	seeded := f.seedResult(t)
	router := f.server.Router()

	rec := doJSON(t, router, http.MethodGet, "/api/video?path="+seeded.Path, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stub media", rec.Body.String())

	rec = doJSON(t, router, http.MethodGet, "/api/video?path=/etc/passwd", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/video", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExport(t *testing.T) {
	f := newFixture(t)
	seeded := f.seedResult(t)
	router := f.server.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/export", map[string]any{
		"fingerprint": seeded.Fingerprint,
		"event_type":  "baby_cry",
		"start":       10.0,
		"end":         14.0,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var clip export.ClipResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &clip))
	assert.FileExists(t, clip.ClipPath)
	assert.FileExists(t, clip.MetaPath)

	rec = doJSON(t, router, http.MethodPost, "/api/export", map[string]any{
		"fingerprint": "0000000000000000",
		"event_type":  "baby_cry",
		"start":       1.0,
		"end":         2.0,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
