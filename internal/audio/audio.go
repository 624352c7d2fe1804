// Package audio turns an attempt recording's audio track into suspicion
// events.
//
// The worker extracts a mono 16 kHz WAV per job; the Detector decodes it
// once and runs three independent scans over the sample stream:
//
//   - a WebRTC VAD pass that flags contiguous silent spans longer than 30 s
//     (an examinee who leaves, or a muted microphone);
//   - an energy-ratio scan over 5 s segments that flags abrupt loudness
//     shifts as possible speaker changes, escalating to a multiple-speakers
//     event when they pile up;
//   - an RMS scan over 2 s windows that flags sustained loud background
//     noise.
//
// The scans are heuristics: they bias toward recall and leave weighing to
// the risk engine.
package audio

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/invigil/invigil/internal/event"
	"github.com/invigil/invigil/pkg/vad"
)

const (
	// frameDurationMs is the VAD frame size. 30 ms is the largest frame
	// WebRTC VAD accepts and gives the coarsest, most stable verdicts.
	frameDurationMs = 30

	// vadAggressiveness is the WebRTC VAD operating mode (0 lenient to 3
	// strict).
	vadAggressiveness = 2

	// silenceMinimumMs is the silent-span duration that must be strictly
	// exceeded before a span is reported.
	silenceMinimumMs = 30_000

	// segmentSeconds is the speaker-scan segment length.
	segmentSeconds = 5

	// changeRatio is the relative energy shift between consecutive segments
	// that must be strictly exceeded to flag a speaker change.
	changeRatio = 0.3

	// changeEnergyFloor gates speaker changes on the current segment's mean
	// absolute amplitude, suppressing flags from near-silent audio.
	changeEnergyFloor = 1000.0

	// changeCountLimit is the speaker-change count that must be strictly
	// exceeded before the multiple-speakers event is added.
	changeCountLimit = 3

	// noiseWindowSeconds is the background-noise window length.
	noiseWindowSeconds = 2

	// noiseRMSLimit is the RMS amplitude a window must strictly exceed to be
	// reported as background noise.
	noiseRMSLimit = 5000.0
)

// Option is a functional option for configuring a Detector.
type Option func(*Detector)

// WithLogger sets the logger used for scan diagnostics. Defaults to
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.logger = l
		}
	}
}

// Detector runs the audio pipeline for one recording at a time. It holds no
// per-recording state, so a single Detector may serve concurrent jobs.
type Detector struct {
	engine vad.Engine
	logger *slog.Logger
}

// NewDetector creates a Detector that sources VAD sessions from engine.
func NewDetector(engine vad.Engine, opts ...Option) *Detector {
	d := &Detector{
		engine: engine,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Analyze decodes the WAV at wavPath and returns the suspicion events of
// all three scans, silence first, then speaker changes, then noise. An
// unreadable or malformed file is an error; a degraded scan (unsupported
// VAD rate, detector failure mid-stream) is logged and yields whatever
// events were gathered up to that point.
func (d *Detector) Analyze(ctx context.Context, wavPath string) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("audio: context already cancelled: %w", err)
	}

	raw, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, fmt.Errorf("audio: read wav: %w", err)
	}
	w, err := decodeWAV(raw)
	if err != nil {
		return nil, fmt.Errorf("audio: decode wav %s: %w", wavPath, err)
	}

	var events []event.Event
	events = append(events, d.silenceScan(w)...)
	events = append(events, d.speakerScan(w)...)
	events = append(events, d.noiseScan(w)...)

	d.logger.Debug("audio analysis complete",
		"wav", wavPath,
		"sample_rate", w.sampleRate,
		"samples", len(w.samples),
		"events", len(events))
	return events, nil
}

// silenceScan walks the PCM in 30 ms frames through a VAD session and
// reports every contiguous silent span strictly longer than 30 s, including
// a trailing span that runs to the end of the recording. A short final
// partial frame is ignored.
func (d *Detector) silenceScan(w *wavData) []event.Event {
	switch w.sampleRate {
	case 8000, 16000, 32000, 48000:
	default:
		d.logger.Warn("sample rate unsupported by VAD, skipping silence scan",
			"sample_rate", w.sampleRate)
		return nil
	}

	sess, err := d.engine.NewSession(vad.Config{
		SampleRate:      w.sampleRate,
		FrameDurationMs: frameDurationMs,
		Aggressiveness:  vadAggressiveness,
	})
	if err != nil {
		d.logger.Warn("vad session unavailable, skipping silence scan", "error", err)
		return nil
	}
	defer sess.Close()

	frameBytes := w.sampleRate / 1000 * frameDurationMs * 2

	var events []event.Event
	silentStartMs := -1
	timeMs := 0

	// flush closes the open silent span at endMs and reports it when long
	// enough.
	flush := func(endMs int) {
		if silentStartMs < 0 {
			return
		}
		if durMs := endMs - silentStartMs; durMs > silenceMinimumMs {
			events = append(events, event.Event{
				Kind:      event.SuspiciousSilence,
				Timestamp: float64(silentStartMs) / 1000,
				Extra: map[string]any{
					"duration_seconds": float64(durMs) / 1000,
					"start_time":       float64(silentStartMs) / 1000,
					"end_time":         float64(endMs) / 1000,
				},
			})
		}
		silentStartMs = -1
	}

	for off := 0; off+frameBytes <= len(w.data); off += frameBytes {
		speech, err := sess.IsSpeech(w.data[off : off+frameBytes])
		if err != nil {
			d.logger.Warn("vad frame classification failed, aborting silence scan",
				"offset_ms", timeMs, "error", err)
			return events
		}
		if speech {
			flush(timeMs)
		} else if silentStartMs < 0 {
			silentStartMs = timeMs
		}
		timeMs += frameDurationMs
	}
	flush(timeMs)
	return events
}

// speakerScan compares the mean absolute amplitude of consecutive 5 s
// segments. A shift of more than 30 % into a segment that is itself loud
// enough counts as a possible speaker change; more than three such changes
// add a single multiple-speakers event at time zero.
func (d *Detector) speakerScan(w *wavData) []event.Event {
	segLen := w.sampleRate * segmentSeconds
	if segLen <= 0 {
		return nil
	}
	numSegments := len(w.samples) / segLen

	var events []event.Event
	for i := 1; i < numSegments; i++ {
		prevEnergy := meanAbs(w.samples[(i-1)*segLen : i*segLen])
		currEnergy := meanAbs(w.samples[i*segLen : (i+1)*segLen])
		if prevEnergy <= 0 {
			continue
		}
		ratio := math.Abs(currEnergy-prevEnergy) / prevEnergy
		if ratio > changeRatio && currEnergy > changeEnergyFloor {
			events = append(events, event.Event{
				Kind:      event.PossibleSpeakerChange,
				Timestamp: float64(i * segmentSeconds),
				Extra: map[string]any{
					"energy_ratio":  ratio,
					"segment_start": float64(i * segmentSeconds),
					"prev_energy":   prevEnergy,
					"curr_energy":   currEnergy,
				},
			})
		}
	}

	if len(events) > changeCountLimit {
		events = append(events, event.Event{
			Kind:      event.MultipleSpeakersDetected,
			Timestamp: 0,
			Extra: map[string]any{
				"speaker_changes": len(events),
				"confidence":      math.Min(float64(len(events))/10, 1),
			},
		})
	}
	return events
}

// noiseScan reports every complete 2 s window whose RMS amplitude strictly
// exceeds the noise limit.
func (d *Detector) noiseScan(w *wavData) []event.Event {
	window := w.sampleRate * noiseWindowSeconds
	if window <= 0 {
		return nil
	}

	var events []event.Event
	for i := 0; i+window <= len(w.samples); i += window {
		rms := rmsEnergy(w.samples[i : i+window])
		if rms > noiseRMSLimit {
			events = append(events, event.Event{
				Kind:      event.BackgroundNoise,
				Timestamp: float64(i) / float64(w.sampleRate),
				Extra: map[string]any{
					"rms_energy": rms,
					"duration":   2.0,
				},
			})
		}
	}
	return events
}

// ---- helpers ----------------------------------------------------------------

// meanAbs returns the mean absolute amplitude of the samples, 0 for an
// empty slice.
func meanAbs(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += math.Abs(float64(s))
	}
	return sum / float64(len(samples))
}

// rmsEnergy returns the root-mean-square amplitude of the samples, 0 for an
// empty slice.
func rmsEnergy(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
