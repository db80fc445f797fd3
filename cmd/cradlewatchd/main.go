// Command cradlewatchd is the long-running service: it processes camera
// recordings into acoustic episodes, persists them in the result store, and
// serves the query API. With a watch directory configured it also reacts to
// new uploads on its own.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/cradlewatch/cradlewatch/internal/api"
	"github.com/cradlewatch/cradlewatch/internal/audio"
	"github.com/cradlewatch/cradlewatch/internal/classify"
	"github.com/cradlewatch/cradlewatch/internal/config"
	"github.com/cradlewatch/cradlewatch/internal/export"
	xlog "github.com/cradlewatch/cradlewatch/internal/log"
	"github.com/cradlewatch/cradlewatch/internal/pipeline"
	"github.com/cradlewatch/cradlewatch/internal/store"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	source := flag.String("source", "", "recordings file or directory (overrides watch_dir)")
	oneShot := flag.Bool("process", false, "run one processing pass and exit")
	force := flag.Bool("force", false, "with -process, reprocess cached recordings")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Without an explicit -config, pick up a config the UI saved earlier.
	explicit := strings.TrimSpace(*configPath) != ""
	effectivePath := strings.TrimSpace(*configPath)
	if !explicit {
		autoPath := filepath.Join(os.Getenv("CRADLEWATCH_DATA"), "config.yaml")
		if os.Getenv("CRADLEWATCH_DATA") != "" {
			if _, err := os.Stat(autoPath); err == nil {
				effectivePath = autoPath
			}
		}
	}

	cfg, err := config.Load(effectivePath, explicit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cradlewatchd: load config: %v\n", err)
		os.Exit(1)
	}

	xlog.Configure(xlog.Config{Level: cfg.LogLevel, Service: "cradlewatch"})
	logger := xlog.WithComponent("daemon")
	logger.Info().
		Str("version", version).
		Str(xlog.FieldDataDir, cfg.DataDir).
		Str(xlog.FieldEvent, "daemon.starting").
		Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *source, *oneShot, *force); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Str(xlog.FieldEvent, "daemon.failed").Msg("daemon exited with error")
		os.Exit(1)
	}
	logger.Info().Str(xlog.FieldEvent, "daemon.stopped").Msg("shut down cleanly")
}

func run(ctx context.Context, cfg config.AppConfig, sourceFlag string, oneShot, force bool) error {
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if cfg.ScorerCommand == "" {
		return errors.New("no scorer command configured (CRADLEWATCH_SCORER or scorer_command)")
	}

	source := sourceFlag
	if source == "" {
		source = cfg.WatchDir
	}
	if source == "" {
		return errors.New("no recordings source configured (-source or watch_dir)")
	}

	s, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer s.Close()

	progress := pipeline.NewBroadcaster()
	orch := &pipeline.Orchestrator{
		Store:      s,
		Classifier: classify.NewCommandClassifier(cfg.ScorerCommand, cfg.ScorerArgs...),
		Audio:      audio.NewExtractor(cfg.FFmpegPath),
		Progress:   progress,
		Source:     source,
	}

	if oneShot {
		summary, err := orch.Process(ctx, pipeline.RunOptions{Force: force})
		if err != nil {
			return err
		}
		fmt.Printf("processed %d, skipped %d, failed %d, %d episodes in %.1fs\n",
			summary.Processed, summary.Skipped, summary.Failed, summary.Episodes, summary.ElapsedS)
		return nil
	}

	server := api.New(api.Options{
		ListenAddr:   cfg.ListenAddr,
		Store:        s,
		Orchestrator: orch,
		Progress:     progress,
		Exporter:     export.New(cfg.FFmpegPath, cfg.ExportDir()),
		VideoRoot:    source,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Serve(gctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.WatchDir != "" {
		watcher := &pipeline.Watcher{Orchestrator: orch, Dir: cfg.WatchDir}
		g.Go(func() error { return watcher.Run(gctx) })
	}

	return g.Wait()
}
