// Package app wires the invigil subsystems into a running worker.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the runner loops plus the ops listener, and
// Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithGateway, WithVisionAnalyzer, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/invigil/invigil/internal/audio"
	"github.com/invigil/invigil/internal/config"
	"github.com/invigil/invigil/internal/health"
	"github.com/invigil/invigil/internal/media"
	"github.com/invigil/invigil/internal/observe"
	"github.com/invigil/invigil/internal/resilience"
	"github.com/invigil/invigil/internal/store"
	"github.com/invigil/invigil/internal/store/postgres"
	"github.com/invigil/invigil/internal/video"
	"github.com/invigil/invigil/internal/worker"
	"github.com/invigil/invigil/pkg/vad"
	"github.com/invigil/invigil/pkg/vad/webrtc"
	"github.com/invigil/invigil/pkg/vision"
	"github.com/invigil/invigil/pkg/vision/sidecar"
)

// opsShutdownTimeout bounds the drain of in-flight ops requests once the
// run context ends.
const opsShutdownTimeout = 5 * time.Second

// App owns all subsystem lifetimes and orchestrates the analysis worker.
type App struct {
	cfg *config.Config

	// Subsystems — initialised in New, torn down in Shutdown.
	gateway       store.Gateway
	analyzer      vision.Analyzer
	engine        vad.Engine
	extractor     *media.Extractor
	videoDetector *video.Detector
	audioDetector *audio.Detector
	runner        *worker.Runner
	ops           *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithGateway injects a persistence gateway instead of connecting to
// PostgreSQL from config.
func WithGateway(g store.Gateway) Option {
	return func(a *App) { a.gateway = g }
}

// WithVisionAnalyzer injects a vision analyzer instead of creating the
// model sidecar client from config.
func WithVisionAnalyzer(v vision.Analyzer) Option {
	return func(a *App) { a.analyzer = v }
}

// WithVADEngine injects a voice-activity engine instead of the WebRTC one.
func WithVADEngine(e vad.Engine) Option {
	return func(a *App) { a.engine = e }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Use Option
// functions to inject test doubles for any of them.
//
// New performs all initialisation synchronously: the database pool is
// connected and pinged, the sidecar client and detectors are constructed,
// and the ops listener is assembled (but not yet bound; Run does that).
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Persistence gateway ───────────────────────────────────────────
	if err := a.initGateway(ctx); err != nil {
		return nil, fmt.Errorf("app: init gateway: %w", err)
	}

	// ── 2. Vision analyzer ───────────────────────────────────────────────
	if err := a.initVision(); err != nil {
		return nil, fmt.Errorf("app: init vision: %w", err)
	}

	// ── 3. Extractor and detectors ───────────────────────────────────────
	a.initDetectors()

	// ── 4. Job runner ────────────────────────────────────────────────────
	if err := a.initRunner(); err != nil {
		return nil, fmt.Errorf("app: init runner: %w", err)
	}

	// ── 5. Ops listener ──────────────────────────────────────────────────
	a.initOps()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initGateway connects the PostgreSQL gateway or keeps an injected one.
func (a *App) initGateway(ctx context.Context) error {
	if a.gateway != nil {
		return nil
	}

	if a.cfg.Database.URL == "" {
		return fmt.Errorf("database.url is required when no gateway is injected")
	}

	gw, err := postgres.New(ctx, a.cfg.Database.URL)
	if err != nil {
		return err
	}
	a.gateway = gw
	a.closers = append(a.closers, func() error {
		gw.Close()
		return nil
	})
	return nil
}

// initVision creates the sidecar client or keeps an injected analyzer. The
// sidecar is wrapped in a circuit breaker so that a dead vision service fails
// frames fast instead of stalling every job on transport timeouts.
func (a *App) initVision() error {
	if a.analyzer != nil {
		return nil
	}

	opts := []sidecar.Option{sidecar.WithModel(a.cfg.Vision.ModelPath)}
	if d := a.cfg.Vision.RequestTimeout.Std(); d > 0 {
		opts = append(opts, sidecar.WithTimeout(d))
	}

	an, err := sidecar.New(a.cfg.Vision.ServiceURL, opts...)
	if err != nil {
		return err
	}
	a.analyzer = resilience.NewVisionBreaker(an, resilience.CircuitBreakerConfig{
		Name: "vision-sidecar",
	})
	return nil
}

// initDetectors builds the media extractor and both detectors.
func (a *App) initDetectors() {
	var mediaOpts []media.Option
	if a.cfg.Media.FFmpegPath != "" {
		mediaOpts = append(mediaOpts, media.WithBinPath(a.cfg.Media.FFmpegPath))
	}
	a.extractor = media.NewExtractor(mediaOpts...)

	if a.engine == nil {
		a.engine = webrtc.New()
	}

	a.videoDetector = video.NewDetector(a.analyzer)
	a.audioDetector = audio.NewDetector(a.engine)
}

// initRunner assembles the claim-process-settle runner from the wired
// subsystems.
func (a *App) initRunner() error {
	r, err := worker.New(
		worker.Deps{
			Gateway:   a.gateway,
			Extractor: a.extractor,
			Video:     a.videoDetector,
			Audio:     a.audioDetector,
		},
		worker.WithPollInterval(a.cfg.Worker.PollInterval.Std()),
		worker.WithErrorBackoff(a.cfg.Worker.ErrorBackoff.Std()),
		worker.WithJobTimeout(a.cfg.Worker.JobTimeout.Std()),
	)
	if err != nil {
		return err
	}
	a.runner = r
	return nil
}

// initOps assembles the HTTP listener serving /metrics, /healthz and
// /readyz. An empty listen address leaves the listener disabled.
func (a *App) initOps() {
	if a.cfg.Ops.ListenAddr == "" {
		return
	}

	// Readiness covers whichever dependencies expose a probe; injected
	// doubles without one are simply not checked.
	var checkers []health.Checker
	if p, ok := a.gateway.(health.Pinger); ok {
		checkers = append(checkers, health.Database(p))
	}
	checkers = append(checkers, health.FFmpeg(a.extractor.BinPath()))
	if p, ok := a.analyzer.(health.Pinger); ok {
		checkers = append(checkers, health.Vision(p))
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("/metrics", promhttp.Handler())

	a.ops = &http.Server{
		Addr:              a.cfg.Ops.ListenAddr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the configured number of runner loops plus the ops listener
// and blocks until ctx is cancelled and all of them have drained. A clean
// shutdown returns nil.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.ops != nil {
		g.Go(func() error {
			slog.Info("ops listener started", "addr", a.ops.Addr)
			if err := a.ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: ops listener: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), opsShutdownTimeout)
			defer cancel()
			return a.ops.Shutdown(sctx)
		})
	}

	workers := a.cfg.Worker.Count
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		g.Go(func() error { return a.runner.Run(ctx) })
	}

	slog.Info("worker running", "workers", workers, "queue", store.JobName)
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers
// are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
