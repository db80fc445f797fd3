package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cradlewatch/cradlewatch/internal/config"
	"github.com/cradlewatch/cradlewatch/internal/export"
	"github.com/cradlewatch/cradlewatch/internal/fsutil"
	xlog "github.com/cradlewatch/cradlewatch/internal/log"
	"github.com/cradlewatch/cradlewatch/internal/pipeline"
	"github.com/cradlewatch/cradlewatch/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDates(w http.ResponseWriter, r *http.Request) {
	dates, err := s.opts.Store.ListDates(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if dates == nil {
		dates = []store.DateSummary{}
	}
	writeJSON(w, http.StatusOK, dates)
}

func (s *Server) handleDate(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	if _, err := time.Parse("2006-01-02", date); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid date %q, want YYYY-MM-DD", date))
		return
	}
	recs, err := s.opts.Store.RecordingsForDate(r.Context(), date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if len(recs) == 0 {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.opts.Store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.opts.Store.LoadSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var settings config.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid settings body: %w", err))
		return
	}
	settings = settings.MergeDefaults()
	if err := settings.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.opts.Store.SaveSettings(r.Context(), settings); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

type processRequest struct {
	Source string `json:"source,omitempty"`
	Force  bool   `json:"force,omitempty"`
}

// handleProcess starts a run in the background. The HTTP request returns
// immediately; progress flows over /api/process/status.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid process body: %w", err))
			return
		}
	}
	// claim the run slot before replying so concurrent starts cannot both
	// report success
	run, err := s.opts.Orchestrator.TryStart(pipeline.RunOptions{
		Source: req.Source,
		Force:  req.Force,
	})
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}

	go func() {
		// detached from the request; the run outlives the HTTP exchange
		if _, err := run(context.Background()); err != nil {
			logger := xlog.WithComponent("api")
			logger.Error().Err(err).
				Str(xlog.FieldEvent, "api.run_failed").
				Msg("background processing run failed")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "started",
		"force":  req.Force,
	})
}

// handleProcessStatus streams progress updates as server-sent events until
// the client disconnects.
func (s *Server) handleProcessStatus(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := s.opts.Progress.Subscribe()
	defer sub.Close()

	writeSSE(w, "status", map[string]bool{"running": s.opts.Orchestrator.Running()})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case u, open := <-sub.C():
			if !open {
				return
			}
			writeSSE(w, "progress", u)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

// handleVideo serves a source recording with range support so the browser
// can seek. Only files under the configured video root are reachable.
func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("path")
	if raw == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing path parameter"))
		return
	}
	path, err := fsutil.ConfineAbs(s.opts.VideoRoot, raw)
	if err != nil {
		writeError(w, http.StatusForbidden, err)
		return
	}
	if err := fsutil.IsRegularFile(path); err != nil {
		writeNotFound(w)
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	http.ServeFile(w, r, path)
}

type exportRequest struct {
	Fingerprint string  `json:"fingerprint"`
	EventType   string  `json:"event_type"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Pad         float64 `json:"pad,omitempty"`
}

// handleExport cuts one episode clip. The source path comes from the result
// store, never from the client, and is still confined to the video root.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid export body: %w", err))
		return
	}

	result, ok, err := s.opts.Store.Get(r.Context(), req.Fingerprint)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeNotFound(w)
		return
	}

	source, err := fsutil.ConfineAbs(s.opts.VideoRoot, result.Path)
	if err != nil {
		writeError(w, http.StatusForbidden, err)
		return
	}

	clip, err := s.opts.Exporter.Export(r.Context(), export.ClipRequest{
		Fingerprint: req.Fingerprint,
		SourcePath:  source,
		EventType:   req.EventType,
		Start:       req.Start,
		End:         req.End,
		Pad:         req.Pad,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, clip)
}
