// Command crydetect analyzes a single recording from the shell: extract the
// audio, score it, print the detected episodes. Exit codes make it usable in
// scripts: 0 means nothing found, 1 means episodes were found, and in abuse
// mode 2 means at least one HIGH severity composite was found.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cradlewatch/cradlewatch/internal/audio"
	"github.com/cradlewatch/cradlewatch/internal/classify"
	"github.com/cradlewatch/cradlewatch/internal/config"
	"github.com/cradlewatch/cradlewatch/internal/detect"
	xlog "github.com/cradlewatch/cradlewatch/internal/log"
	"github.com/cradlewatch/cradlewatch/internal/pipeline"
	"github.com/cradlewatch/cradlewatch/internal/silence"
)

const (
	exitNone  = 0
	exitFound = 1
	exitHigh  = 2
	exitUsage = 3
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	scorer := flag.String("scorer", "", "scorer command (required)")
	ffmpeg := flag.String("ffmpeg", "ffmpeg", "ffmpeg binary")
	threshold := flag.Float64("threshold", 0, "cry score threshold (0 uses the default)")
	yellThreshold := flag.Float64("yell-threshold", 0, "yell score threshold (0 uses the default)")
	mergeGap := flag.Float64("merge-gap", 0, "max gap in seconds to merge episodes (0 uses the default)")
	minDuration := flag.Float64("min-duration", 0, "minimum episode duration in seconds (0 uses the default)")
	abuse := flag.Bool("abuse", false, "abuse mode: report cry+yell composites and exit 2 on HIGH severity")
	jsonOut := flag.Bool("json", false, "print episodes as JSON")
	scorerArgs := flag.String("scorer-args", "", "extra arguments for the scorer command")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	xlog.Configure(xlog.Config{Level: *logLevel, Service: "crydetect"})

	if flag.NArg() != 1 || *scorer == "" {
		fmt.Fprintln(os.Stderr, "usage: crydetect -scorer <command> [flags] <media-file>")
		flag.PrintDefaults()
		return exitUsage
	}
	mediaPath := flag.Arg(0)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	settings := config.DefaultSettings()
	if *threshold > 0 {
		settings.CryThreshold = *threshold
	}
	if *yellThreshold > 0 {
		settings.YellThreshold = *yellThreshold
	}
	if *mergeGap > 0 {
		settings.MergeGap = *mergeGap
	}
	if *minDuration > 0 {
		settings.MinEventDuration = *minDuration
	}

	episodes, err := analyze(ctx, mediaPath, *scorer, *ffmpeg, settings, strings.Fields(*scorerArgs))
	if err != nil {
		fmt.Fprintf(os.Stderr, "crydetect: %v\n", err)
		return exitUsage
	}

	if !*abuse {
		// outside abuse mode composites are dropped from the report
		kept := episodes[:0]
		for _, ep := range episodes {
			if ep.Type != detect.EventAbuse {
				kept = append(kept, ep)
			}
		}
		episodes = kept
	}

	if *jsonOut {
		_ = json.NewEncoder(os.Stdout).Encode(episodes)
	} else {
		printReport(mediaPath, episodes)
	}

	code := exitNone
	for _, ep := range episodes {
		code = exitFound
		if *abuse && ep.Type == detect.EventAbuse && ep.Severity == detect.SeverityHigh {
			return exitHigh
		}
	}
	return code
}

func analyze(ctx context.Context, mediaPath, scorer, ffmpeg string, settings config.Settings, extra []string) ([]detect.Episode, error) {
	extractor := audio.NewExtractor(ffmpeg)
	samples, sampleRate, err := extractor.Waveform(ctx, mediaPath)
	if err != nil {
		return nil, err
	}
	duration := float64(len(samples)) / float64(sampleRate)

	params := silence.DefaultParams()
	params.DBThreshold = settings.SilenceDB
	params.MinSilence = settings.MinSilenceDuration
	params.MinActive = settings.MinActiveDuration
	energies := audio.FrameEnergies(samples, sampleRate, params.FrameLen, params.HopLen)
	smap := silence.FromEnergies(energies, params.HopLen, duration, params)

	classifier := classify.NewCommandClassifier(scorer, extra...)
	stream, err := classifier.Classify(ctx, samples, sampleRate)
	if err != nil {
		return nil, err
	}
	stream.MaskSilence(smap.Active)

	return pipeline.DetectEpisodes(stream, settings), nil
}

func printReport(mediaPath string, episodes []detect.Episode) {
	if len(episodes) == 0 {
		fmt.Printf("%s: no episodes\n", mediaPath)
		return
	}
	fmt.Printf("%s: %d episode(s)\n", mediaPath, len(episodes))
	for _, ep := range episodes {
		line := fmt.Sprintf("  %-10s %s-%s  peak %.2f  %s",
			ep.Type, clock(ep.Start), clock(ep.End), ep.PeakConfidence, ep.Severity)
		if ep.PeakSecondary != nil {
			line += fmt.Sprintf("  (cry peak %.2f)", *ep.PeakSecondary)
		}
		fmt.Println(line)
	}
}

// clock formats seconds as MM:SS.ss.
func clock(t float64) string {
	m := int(t) / 60
	return fmt.Sprintf("%02d:%05.2f", m, t-float64(m)*60)
}
