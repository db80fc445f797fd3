package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cradlewatch/cradlewatch/internal/audio"
	"github.com/cradlewatch/cradlewatch/internal/classify"
	"github.com/cradlewatch/cradlewatch/internal/config"
	"github.com/cradlewatch/cradlewatch/internal/detect"
	xlog "github.com/cradlewatch/cradlewatch/internal/log"
	"github.com/cradlewatch/cradlewatch/internal/metrics"
	"github.com/cradlewatch/cradlewatch/internal/scan"
	"github.com/cradlewatch/cradlewatch/internal/silence"
	"github.com/cradlewatch/cradlewatch/internal/store"
)

// ErrRunInFlight is returned when Process is called while a run is active.
// Runs are strictly sequential; there is never more than one.
var ErrRunInFlight = errors.New("pipeline: processing run already in flight")

// AudioSource yields the decoded mono waveform of a media file.
type AudioSource interface {
	Waveform(ctx context.Context, mediaPath string) ([]float64, int, error)
}

// Summary is the final tally of one processing run.
type Summary struct {
	RunID     string  `json:"run_id"`
	Scanned   int     `json:"scanned"`
	Processed int     `json:"processed"`
	Skipped   int     `json:"skipped"`
	Failed    int     `json:"failed"`
	Episodes  int     `json:"episodes"`
	ElapsedS  float64 `json:"elapsed_s"`
}

// RunOptions select what one run covers.
type RunOptions struct {
	// Source is a recording file or directory to scan. Empty falls back to
	// the orchestrator's configured source.
	Source string
	// Force reprocesses recordings whose fingerprint is already cached.
	Force bool
}

// Orchestrator drives processing runs: scan, fingerprint, skip-or-analyze,
// persist. It is side-effecting and must stay out of HTTP request paths;
// handlers trigger it asynchronously and follow progress via the broadcaster.
type Orchestrator struct {
	Store      *store.Store
	Classifier classify.Classifier
	Audio      AudioSource
	Progress   *Broadcaster

	// Source is the default scan root when RunOptions.Source is empty.
	Source string

	running atomic.Bool
}

// Running reports whether a processing run is currently active.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// TryStart claims the single run slot and returns the run to execute, or
// ErrRunInFlight when a run is already active. The claim happens here, in
// the caller's goroutine, so two concurrent starts cannot both succeed.
// The returned function releases the slot when it finishes and must be
// called exactly once.
func (o *Orchestrator) TryStart(opts RunOptions) (func(ctx context.Context) (Summary, error), error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrRunInFlight
	}
	return func(ctx context.Context) (Summary, error) {
		defer o.running.Store(false)
		return o.run(ctx, opts)
	}, nil
}

// Process executes one full sequential run. Results already cached are
// skipped unless opts.Force is set. Cancelling ctx stops the run between
// recordings; the recording being analyzed is either persisted whole or not
// at all.
func (o *Orchestrator) Process(ctx context.Context, opts RunOptions) (Summary, error) {
	run, err := o.TryStart(opts)
	if err != nil {
		return Summary{}, err
	}
	return run(ctx)
}

func (o *Orchestrator) run(ctx context.Context, opts RunOptions) (Summary, error) {
	runID := uuid.New().String()
	ctx = xlog.ContextWithRunID(ctx, runID)
	logger := xlog.WithComponentFromContext(ctx, "pipeline")
	started := time.Now()

	source := opts.Source
	if source == "" {
		source = o.Source
	}

	settings, err := o.Store.LoadSettings(ctx)
	if err != nil {
		return Summary{RunID: runID}, err
	}

	scanner := &scan.Scanner{Filter: filterFromSettings(settings)}
	recordings, report, err := scanner.Scan(source)
	if err != nil {
		return Summary{RunID: runID}, err
	}

	summary := Summary{RunID: runID, Scanned: len(recordings)}
	o.publish(Update{RunID: runID, Stage: StageScan, Total: len(recordings),
		Message: fmt.Sprintf("accepted %d of %d files", report.Accepted, report.TotalFiles)})

	for i, rec := range recordings {
		if err := ctx.Err(); err != nil {
			summary.ElapsedS = time.Since(started).Seconds()
			o.publish(Update{RunID: runID, Stage: StageDone, Index: i, Total: len(recordings),
				Message: "run canceled", Done: true, Summary: &summary})
			return summary, err
		}

		fingerprint, err := Fingerprint(rec.Path)
		if err != nil {
			summary.Failed++
			logger.Error().Err(err).
				Str(xlog.FieldPath, rec.Path).
				Str(xlog.FieldEvent, "run.fingerprint_failed").
				Msg("cannot fingerprint recording")
			o.publish(Update{RunID: runID, Stage: StageError, Index: i + 1,
				Total: len(recordings), Path: rec.Path, Message: err.Error()})
			continue
		}

		if !opts.Force {
			if _, cached, err := o.Store.Get(ctx, fingerprint); err != nil {
				summary.ElapsedS = time.Since(started).Seconds()
				return summary, err
			} else if cached {
				summary.Skipped++
				o.publish(Update{RunID: runID, Stage: StageSkip, Index: i + 1,
					Total: len(recordings), Fingerprint: fingerprint, Path: rec.Path})
				continue
			}
		}

		result := o.processOne(ctx, rec, fingerprint, settings)
		if result.Status == store.StatusError && ctx.Err() != nil {
			// Cancellation interrupted the analysis mid-recording. Persisting
			// the error would poison the cache and skip the recording on every
			// later run, so leave no verdict and let it be retried.
			summary.ElapsedS = time.Since(started).Seconds()
			o.publish(Update{RunID: runID, Stage: StageDone, Index: i, Total: len(recordings),
				Message: "run canceled", Done: true, Summary: &summary})
			return summary, ctx.Err()
		}
		// A finished analysis is committed even if cancellation lands while
		// persisting; the run stops at the next loop iteration.
		if err := o.Store.Put(context.WithoutCancel(ctx), result); err != nil {
			summary.ElapsedS = time.Since(started).Seconds()
			return summary, fmt.Errorf("persist %s: %w", fingerprint, err)
		}

		metrics.IncRecording(string(result.Status))
		byType := map[string]int{}
		for _, ep := range result.Episodes {
			byType[string(ep.Type)]++
		}
		for eventType, n := range byType {
			metrics.IncEpisodes(eventType, n)
		}

		stage := StageProcess
		if result.Status == store.StatusError {
			stage = StageError
			summary.Failed++
		} else {
			summary.Processed++
			summary.Episodes += len(result.Episodes)
		}
		o.publish(Update{RunID: runID, Stage: stage, Index: i + 1, Total: len(recordings),
			Fingerprint: fingerprint, Path: rec.Path, Message: result.ErrorMessage})
	}

	summary.ElapsedS = time.Since(started).Seconds()
	metrics.RunDurationSeconds.Observe(summary.ElapsedS)
	o.publish(Update{RunID: runID, Stage: StageDone, Index: len(recordings),
		Total: len(recordings), Done: true, Summary: &summary})

	logger.Info().
		Str(xlog.FieldEvent, "run.done").
		Int("scanned", summary.Scanned).
		Int("processed", summary.Processed).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Int(xlog.FieldEpisodes, summary.Episodes).
		Float64(xlog.FieldDuration, summary.ElapsedS).
		Msg("processing run complete")

	return summary, nil
}

func (o *Orchestrator) processOne(ctx context.Context, rec scan.Recording, fingerprint string, settings config.Settings) store.Result {
	ctx = xlog.ContextWithFingerprint(ctx, fingerprint)
	logger := xlog.WithComponentFromContext(ctx, "pipeline")

	result := store.Result{
		Fingerprint: fingerprint,
		Path:        rec.Path,
		DeviceID:    rec.DeviceID,
		RecStart:    rec.Start,
		RecEnd:      rec.End,
		DateLabel:   rec.DateLabel(),
		Status:      store.StatusOK,
		ProcessedAt: time.Now().UTC(),
	}

	fail := func(err error) store.Result {
		logger.Error().Err(err).
			Str(xlog.FieldPath, rec.Path).
			Str(xlog.FieldEvent, "run.recording_failed").
			Msg("recording analysis failed")
		result.Status = store.StatusError
		result.ErrorMessage = err.Error()
		result.Episodes = nil
		return result
	}

	samples, sampleRate, err := o.Audio.Waveform(ctx, rec.Path)
	if err != nil {
		return fail(err)
	}
	duration := float64(len(samples)) / float64(sampleRate)
	result.Duration = duration

	energies := audio.FrameEnergies(samples, sampleRate, silence.DefaultFrameLen, silence.DefaultHopLen)
	result.Silence = silence.FromEnergies(energies, silence.DefaultHopLen, duration, silenceParams(settings))
	result.SilentFraction = result.Silence.SilentFraction()

	stream, err := o.Classifier.Classify(ctx, samples, sampleRate)
	if err != nil {
		return fail(err)
	}
	stream.MaskSilence(result.Silence.Active)

	result.Episodes = DetectEpisodes(stream, settings)

	logger.Info().
		Str(xlog.FieldEvent, "run.recording_done").
		Str(xlog.FieldDeviceID, rec.DeviceID).
		Int(xlog.FieldEpisodes, len(result.Episodes)).
		Float64(xlog.FieldDuration, duration).
		Float64("silent_fraction", result.SilentFraction).
		Msg("recording analyzed")

	return result
}

// DetectEpisodes turns one masked score stream into the final episode list:
// per-class threshold merging plus the cry+yell composite pass, ordered by
// start time.
func DetectEpisodes(stream *classify.ScoreStream, settings config.Settings) []detect.Episode {
	thresholds := map[detect.EventType]float64{
		detect.EventBabyCry:   settings.CryThreshold,
		detect.EventYell:      settings.YellThreshold,
		detect.EventLoudNoise: settings.NoiseThreshold,
		detect.EventTalk:      settings.TalkThreshold,
	}

	base := detect.MergeParams{
		MergeGap:    settings.MergeGap,
		MinDuration: settings.MinEventDuration,
		Window:      stream.Window,
	}

	var all, cry, yell []detect.Episode
	for _, eventType := range []detect.EventType{
		detect.EventBabyCry, detect.EventYell, detect.EventLoudNoise, detect.EventTalk,
	} {
		params := base
		params.Threshold = thresholds[eventType]
		episodes := detect.Merge(stream.Series(eventType), eventType, params)
		switch eventType {
		case detect.EventBabyCry:
			cry = episodes
		case detect.EventYell:
			yell = episodes
		}
		all = append(all, episodes...)
	}

	all = append(all, detect.DetectAbuse(cry, yell, detect.CoOccurOptions{
		Window:         settings.CoWindow,
		SuppressNested: settings.SuppressNested,
	})...)

	sort.Slice(all, func(i, j int) bool {
		if all[i].Start != all[j].Start {
			return all[i].Start < all[j].Start
		}
		return all[i].End < all[j].End
	})
	return all
}

func (o *Orchestrator) publish(u Update) {
	if o.Progress != nil {
		o.Progress.Publish(u)
	}
}

func silenceParams(s config.Settings) silence.Params {
	p := silence.DefaultParams()
	p.DBThreshold = s.SilenceDB
	p.MinSilence = s.MinSilenceDuration
	p.MinActive = s.MinActiveDuration
	return p
}

func filterFromSettings(s config.Settings) scan.Filter {
	f := scan.Filter{
		StartMinute: minuteOfDay(s.HoursStart, 0),
		EndMinute:   minuteOfDay(s.HoursEnd, 23*60+59),
	}
	for _, d := range s.WorkDays {
		if d >= 0 && d <= 6 {
			f.Weekdays = append(f.Weekdays, time.Weekday(d))
		}
	}
	return f
}

func minuteOfDay(v string, fallback int) int {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return fallback
	}
	return t.Hour()*60 + t.Minute()
}
