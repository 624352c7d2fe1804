// Package worker implements the claim-process-settle loop that drives the
// analysis pipeline.
//
// A Runner repeatedly claims the oldest runnable job from the queue,
// reconstructs the recording in a per-job temp directory, runs the video
// and audio detectors over it, scores the merged event timeline and
// persists the result, then settles the job. Per-job failures are settled
// as failed and never stop the loop; only context cancellation does.
//
// A single Runner holds no per-job state and may be run from several
// goroutines at once; competing claims are serialized by the queue's row
// locking, not by anything in this package.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/invigil/invigil/internal/event"
	"github.com/invigil/invigil/internal/observe"
	"github.com/invigil/invigil/internal/risk"
	"github.com/invigil/invigil/internal/store"
)

const (
	// DefaultPollInterval spaces claim attempts while the queue is empty.
	DefaultPollInterval = 5 * time.Second

	// DefaultErrorBackoff spaces claim attempts after a queue error.
	DefaultErrorBackoff = 10 * time.Second

	// DefaultJobTimeout caps one job's wall-clock run. Recording length is
	// unknown before decoding, so the ceiling is generous and fixed.
	DefaultJobTimeout = 30 * time.Minute

	// settleTimeout bounds the settlement write, which must go through even
	// after the job context is gone.
	settleTimeout = 30 * time.Second
)

// Extractor decomposes a recording into detector inputs.
// *media.Extractor is the production implementation.
type Extractor interface {
	ExtractFrames(ctx context.Context, src, dir string) ([]string, error)
	ExtractAudio(ctx context.Context, src, wavPath string) error
}

// VideoAnalyzer turns ordered frame paths into suspicion events.
// *video.Detector is the production implementation.
type VideoAnalyzer interface {
	Analyze(ctx context.Context, framePaths []string) ([]event.Event, error)
}

// AudioAnalyzer turns an extracted WAV into suspicion events.
// *audio.Detector is the production implementation.
type AudioAnalyzer interface {
	Analyze(ctx context.Context, wavPath string) ([]event.Event, error)
}

// Deps are the collaborators one Runner drives. All four are required.
type Deps struct {
	Gateway   store.Gateway
	Extractor Extractor
	Video     VideoAnalyzer
	Audio     AudioAnalyzer
}

// Option is a functional option for configuring a Runner.
type Option func(*Runner)

// WithLogger sets the logger for loop diagnostics. Defaults to
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics sets the metric instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Runner) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithPollInterval overrides the sleep after an empty poll.
func WithPollInterval(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithErrorBackoff overrides the sleep after a claim error.
func WithErrorBackoff(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.errorBackoff = d
		}
	}
}

// WithJobTimeout overrides the per-job wall-clock ceiling.
func WithJobTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.jobTimeout = d
		}
	}
}

// Runner drives the analysis loop. Construct with [New]; safe for
// concurrent use.
type Runner struct {
	deps    Deps
	logger  *slog.Logger
	metrics *observe.Metrics

	pollInterval time.Duration
	errorBackoff time.Duration
	jobTimeout   time.Duration
}

// New creates a Runner over the given collaborators.
func New(deps Deps, opts ...Option) (*Runner, error) {
	if deps.Gateway == nil {
		return nil, errors.New("worker: nil gateway")
	}
	if deps.Extractor == nil {
		return nil, errors.New("worker: nil extractor")
	}
	if deps.Video == nil {
		return nil, errors.New("worker: nil video analyzer")
	}
	if deps.Audio == nil {
		return nil, errors.New("worker: nil audio analyzer")
	}

	r := &Runner{
		deps:         deps,
		logger:       slog.Default(),
		pollInterval: DefaultPollInterval,
		errorBackoff: DefaultErrorBackoff,
		jobTimeout:   DefaultJobTimeout,
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r, nil
}

// Run claims and processes jobs until ctx is cancelled, then returns nil.
// Job failures are settled and logged inside the loop; nothing short of
// cancellation escapes it.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("runner started",
		"poll_interval", r.pollInterval,
		"job_timeout", r.jobTimeout)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("runner stopped")
			return nil
		default:
		}

		job, err := r.deps.Gateway.ClaimNext(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				continue // cancellation surfaced through the claim
			}
			r.metrics.RecordQueuePoll(ctx, "error")
			r.logger.Error("claim failed", "error", err)
			r.sleep(ctx, r.errorBackoff)
		case job == nil:
			r.metrics.RecordQueuePoll(ctx, "empty")
			r.sleep(ctx, r.pollInterval)
		default:
			r.metrics.RecordQueuePoll(ctx, "claimed")
			r.handle(ctx, job)
		}
	}
}

// handle runs one claimed job to settlement. Every failure path settles
// the job failed; nothing propagates to the loop.
func (r *Runner) handle(ctx context.Context, job *store.Job) {
	ctx, cancel := context.WithTimeout(ctx, r.jobTimeout)
	defer cancel()

	ctx, span := observe.StartSpan(ctx, "proctor.analyse",
		trace.WithAttributes(observe.Attr("job_id", job.ID)))
	defer span.End()

	r.metrics.ActiveJobs.Add(ctx, 1)
	defer r.metrics.ActiveJobs.Add(ctx, -1)

	start := time.Now()
	outcome := store.OutcomeFailed
	defer func() {
		r.metrics.JobDuration.Record(ctx, time.Since(start).Seconds())
		r.metrics.RecordJobOutcome(ctx, string(outcome))
	}()

	log := observe.Logger(ctx).With("job_id", job.ID, "retry", job.RetryCount)

	payload, err := store.ParsePayload(job.Payload)
	if err != nil {
		// Permanently malformed; retrying cannot help.
		log.Error("job payload malformed", "error", err)
		r.settle(ctx, job.ID, store.OutcomeFailed)
		return
	}
	log = log.With("attempt_id", payload.AttemptID, "asset_id", payload.AssetID)
	log.Info("job claimed")

	if err := r.process(ctx, payload, log); err != nil {
		log.Error("job failed", "error", err, "duration", time.Since(start))
		r.settle(ctx, job.ID, store.OutcomeFailed)
		return
	}

	outcome = store.OutcomeCompleted
	r.settle(ctx, job.ID, store.OutcomeCompleted)
	log.Info("job completed", "duration", time.Since(start))
}

// process runs the analysis pipeline for one decoded payload: reconstruct
// the recording, extract, detect, score, persist.
func (r *Runner) process(ctx context.Context, p store.Payload, log *slog.Logger) error {
	tmpDir, err := os.MkdirTemp("", "invigil-job-*")
	if err != nil {
		return fmt.Errorf("worker: create temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			log.Warn("temp dir cleanup failed", "dir", tmpDir, "error", err)
		}
	}()

	stageStart := time.Now()
	blob, err := r.deps.Gateway.FetchAsset(ctx, p.AssetID)
	if err != nil {
		return fmt.Errorf("worker: fetch asset: %w", err)
	}
	r.metrics.RecordStage(ctx, "fetch", time.Since(stageStart).Seconds())

	recPath := filepath.Join(tmpDir, "recording.webm")
	if err := os.WriteFile(recPath, blob, 0o600); err != nil {
		return fmt.Errorf("worker: write recording: %w", err)
	}

	stageStart = time.Now()
	frames, err := r.deps.Extractor.ExtractFrames(ctx, recPath, filepath.Join(tmpDir, "frames"))
	if err != nil {
		r.metrics.RecordDetectorError(ctx, "media")
		return fmt.Errorf("worker: extract frames: %w", err)
	}
	r.metrics.RecordStage(ctx, "extract_frames", time.Since(stageStart).Seconds())

	stageStart = time.Now()
	videoEvents, err := r.deps.Video.Analyze(ctx, frames)
	if err != nil {
		r.metrics.RecordDetectorError(ctx, "video")
		return fmt.Errorf("worker: video analysis: %w", err)
	}
	r.metrics.FramesAnalyzed.Add(ctx, int64(len(frames)))
	r.metrics.RecordStage(ctx, "video_analysis", time.Since(stageStart).Seconds())

	// Recordings without an audio track are legitimate; the video evidence
	// alone still scores. Only cancellation turns a missing track fatal.
	var audioEvents []event.Event
	wavPath := filepath.Join(tmpDir, "audio.wav")
	stageStart = time.Now()
	err = r.deps.Extractor.ExtractAudio(ctx, recPath, wavPath)
	switch {
	case err != nil && ctx.Err() != nil:
		return fmt.Errorf("worker: extract audio: %w", err)
	case err != nil:
		r.metrics.RecordDetectorError(ctx, "media")
		log.Warn("audio extraction failed, continuing without audio events", "error", err)
	default:
		r.metrics.RecordStage(ctx, "extract_audio", time.Since(stageStart).Seconds())

		stageStart = time.Now()
		audioEvents, err = r.deps.Audio.Analyze(ctx, wavPath)
		if err != nil {
			r.metrics.RecordDetectorError(ctx, "audio")
			return fmt.Errorf("worker: audio analysis: %w", err)
		}
		r.metrics.RecordStage(ctx, "audio_analysis", time.Since(stageStart).Seconds())
	}

	events := event.Merge(videoEvents, audioEvents)
	for kind, n := range countKinds(events) {
		r.metrics.RecordEvents(ctx, kind, n)
	}

	tctx, err := r.deps.Gateway.ResolveTestContext(ctx, p.AttemptID)
	if err != nil {
		// The resolver hands back usable defaults alongside the error.
		log.Warn("test context unresolved, scoring with defaults", "error", err)
	}

	breakdown := risk.Score(events, risk.Context{
		TotalQuestions:  tctx.TotalQuestions,
		DurationMinutes: tctx.DurationMinutes,
	})

	stageStart = time.Now()
	if err := r.deps.Gateway.SaveAnalysis(ctx, p.AttemptID, tctx, events, breakdown); err != nil {
		return fmt.Errorf("worker: save analysis: %w", err)
	}
	r.metrics.RecordStage(ctx, "persist", time.Since(stageStart).Seconds())

	log.Info("analysis persisted",
		"events", len(events),
		"risk_score", breakdown.TotalScore,
		"risk_category", string(breakdown.RiskCategory))
	return nil
}

// settle terminally marks the job. It runs on its own short deadline,
// detached from the job context: a job killed by timeout or shutdown must
// still leave the active state.
func (r *Runner) settle(ctx context.Context, jobID string, outcome store.Outcome) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	if err := r.deps.Gateway.Settle(sctx, jobID, outcome); err != nil {
		observe.Logger(ctx).Error("settle failed",
			"job_id", jobID,
			"outcome", string(outcome),
			"error", err)
	}
}

// sleep waits for d or until cancellation, whichever comes first.
func (r *Runner) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// countKinds tallies events by kind for the metrics counters.
func countKinds(events []event.Event) map[string]int64 {
	if len(events) == 0 {
		return nil
	}
	counts := make(map[string]int64, 8)
	for _, ev := range events {
		counts[string(ev.Kind)]++
	}
	return counts
}
