// Package media wraps the ffmpeg binary for decomposing a recording into
// the inputs the detectors consume: a 2 fps JPEG frame sequence for the
// video pipeline and a mono 16 kHz s16le WAV for the audio pipeline.
//
// ffmpeg runs as a child process per extraction; the last lines of its
// stderr are kept for error context. No transcoding state is shared, so an
// Extractor is safe for concurrent use.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
)

const (
	// defaultBin is used when no explicit ffmpeg path is configured. It is
	// resolved against PATH at process spawn.
	defaultBin = "ffmpeg"

	// framePattern is the ffmpeg image2 output pattern for decimated frames.
	// Frame numbering starts at 1.
	framePattern = "frame_%04d.jpg"

	// frameGlob matches the files framePattern produces.
	frameGlob = "frame_*.jpg"

	// stderrTailLines bounds how much ffmpeg stderr is retained for error
	// reporting.
	stderrTailLines = 30
)

// Option is a functional option for configuring an Extractor.
type Option func(*Extractor)

// WithBinPath sets the ffmpeg binary path. Defaults to "ffmpeg" (resolved
// against PATH).
func WithBinPath(path string) Option {
	return func(e *Extractor) {
		if path != "" {
			e.binPath = path
		}
	}
}

// WithLogger sets the logger used for extraction diagnostics. Defaults to
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// Extractor runs ffmpeg extractions. Safe for concurrent use.
type Extractor struct {
	binPath string
	logger  *slog.Logger
}

// NewExtractor creates an Extractor with the given options.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		binPath: defaultBin,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// BinPath returns the configured ffmpeg binary path. Readiness probes use it
// to verify the binary resolves.
func (e *Extractor) BinPath() string { return e.binPath }

// ExtractFrames decimates the recording at src into a 2 fps JPEG sequence
// under dir (created if missing) and returns the frame paths in playback
// order. Frame number n covers timestamp n × 0.5 s.
func (e *Extractor) ExtractFrames(ctx context.Context, src, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("media: create frames dir: %w", err)
	}

	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", src,
		"-vf", "fps=2",
		"-q:v", "2",
		filepath.Join(dir, framePattern),
	}
	if err := e.run(ctx, args); err != nil {
		return nil, fmt.Errorf("media: extract frames: %w", err)
	}

	paths, err := filepath.Glob(filepath.Join(dir, frameGlob))
	if err != nil {
		return nil, fmt.Errorf("media: list frames: %w", err)
	}
	// Zero-padded numbering makes lexicographic order playback order.
	sort.Strings(paths)

	e.logger.Debug("frames extracted", "src", src, "count", len(paths))
	return paths, nil
}

// ExtractAudio demuxes the recording's audio track at src into a mono
// 16 kHz signed 16-bit little-endian WAV at wavPath.
func (e *Extractor) ExtractAudio(ctx context.Context, src, wavPath string) error {
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", src,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ac", "1",
		"-ar", "16000",
		wavPath,
	}
	if err := e.run(ctx, args); err != nil {
		return fmt.Errorf("media: extract audio: %w", err)
	}
	if _, err := os.Stat(wavPath); err != nil {
		return fmt.Errorf("media: extract audio: output missing: %w", err)
	}
	e.logger.Debug("audio extracted", "src", src, "wav", wavPath)
	return nil
}

// run executes one ffmpeg invocation to completion. On failure the error
// carries the exit code and the retained stderr tail.
func (e *Extractor) run(ctx context.Context, args []string) error {
	tail := newLineTail(stderrTailLines)

	cmd := exec.CommandContext(ctx, e.binPath, args...)
	cmd.Stderr = tail

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("run %s: %w", e.binPath, ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("run %s: exit code %d: %s", e.binPath, exitErr.ExitCode(), tail.Joined())
		}
		return fmt.Errorf("run %s: %w", e.binPath, err)
	}
	return nil
}
