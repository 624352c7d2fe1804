// Command invigil runs the proctoring-analysis worker: it claims recorded
// exam attempts from the shared job queue, analyses their video and audio,
// and writes risk scores back to the database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/invigil/invigil/internal/app"
	"github.com/invigil/invigil/internal/config"
	"github.com/invigil/invigil/internal/observe"
	"github.com/invigil/invigil/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to an optional YAML configuration file")
	logLevel := flag.String("log-level", "", "override the log level (debug|info|warn|error)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invigil: %v\n", err)
		return 1
	}
	if *logLevel != "" {
		cfg.Ops.LogLevel = config.LogLevel(*logLevel)
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invigil: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Ops.LogLevel)
	slog.SetDefault(logger)

	slog.Info("invigil starting",
		"queue", store.JobName,
		"workers", cfg.Worker.Count,
		"log_level", cfg.Ops.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "invigil"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("worker ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig layers the optional YAML file over the defaults, then the
// environment over both.
func loadConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := config.FromEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         invigil — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Database", displayDSN(cfg.Database.URL))
	printRow("Queue", store.JobName)
	printRow("Workers", fmt.Sprintf("%d", cfg.Worker.Count))
	printRow("Job timeout", cfg.Worker.JobTimeout.Std().String())
	printRow("FFmpeg", cfg.Media.FFmpegPath)
	printRow("Vision", displayHost(cfg.Vision.ServiceURL))
	printRow("Model", cfg.Vision.ModelPath)
	if cfg.Ops.ListenAddr != "" {
		printRow("Ops listener", cfg.Ops.ListenAddr)
	} else {
		printRow("Ops listener", "(disabled)")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// displayDSN reduces the DSN to host and database name so credentials never
// reach the console.
func displayDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	u, err := url.Parse(dsn)
	if err != nil || u.Host == "" {
		return "configured"
	}
	return u.Host + u.Path
}

// displayHost strips a URL down to its host part for display.
func displayHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
