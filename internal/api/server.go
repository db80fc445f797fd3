// Package api exposes the query and control surface over HTTP: browse
// processed dates and episodes, trigger and follow processing runs, tune
// settings, stream source video and export episode clips.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cradlewatch/cradlewatch/internal/export"
	xlog "github.com/cradlewatch/cradlewatch/internal/log"
	"github.com/cradlewatch/cradlewatch/internal/pipeline"
	"github.com/cradlewatch/cradlewatch/internal/store"
)

// Options wires the server's collaborators.
type Options struct {
	ListenAddr   string
	Store        *store.Store
	Orchestrator *pipeline.Orchestrator
	Progress     *pipeline.Broadcaster
	Exporter     *export.Exporter
	// VideoRoot confines every file served or exported; recordings outside
	// it are never opened.
	VideoRoot string
}

// Server is the HTTP query surface. It never runs processing inline; runs
// are handed to the orchestrator and observed via the progress stream.
type Server struct {
	opts Options
	http *http.Server
}

func New(opts Options) *Server {
	s := &Server{opts: opts}
	s.http = &http.Server{
		Addr:              opts.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the chi route tree. Exposed for httptest.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/dates", s.handleDates)
		r.Get("/dates/{date}", s.handleDate)
		r.Get("/stats", s.handleStats)
		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handlePutSettings)
		r.Get("/video", s.handleVideo)
		r.Get("/process/status", s.handleProcessStatus)

		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(10, time.Minute))
			r.Post("/process", s.handleProcess)
			r.Post("/export", s.handleExport)
		})
	})

	return r
}

// Serve blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()

	logger := xlog.WithComponent("api")
	logger.Info().
		Str("addr", s.opts.ListenAddr).
		Str(xlog.FieldEvent, "api.listening").
		Msg("http server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// requestLogger emits one structured line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger := xlog.WithComponent("api")
		logger.Debug().
			Str("method", r.Method).
			Str(xlog.FieldPath, r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", time.Since(start)).
			Msg("request handled")
	})
}
