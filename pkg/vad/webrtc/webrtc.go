// Package webrtc implements vad.Engine on top of the WebRTC voice activity
// detector (CGO bindings from github.com/maxhawkins/go-webrtcvad, which
// bundle the C sources; no external library is required at link time).
//
// The WebRTC detector operates on 10, 20 or 30 ms frames of 16-bit mono PCM
// at 8, 16, 32 or 48 kHz. Each session owns its own detector instance, so
// sessions are independent; a single session must not be shared between
// goroutines.
package webrtc

import (
	"errors"
	"fmt"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"github.com/invigil/invigil/pkg/vad"
)

// Compile-time assertion that Engine satisfies vad.Engine.
var _ vad.Engine = (*Engine)(nil)

// Engine creates WebRTC VAD sessions. The zero value is ready to use.
type Engine struct{}

// New returns a new WebRTC VAD engine.
func New() *Engine { return &Engine{} }

// NewSession creates a detector instance configured per cfg. Supported
// sample rates are 8000, 16000, 32000 and 48000 Hz; supported frame
// durations are 10, 20 and 30 ms; aggressiveness is 0 through 3.
func (e *Engine) NewSession(cfg vad.Config) (vad.Session, error) {
	switch cfg.SampleRate {
	case 8000, 16000, 32000, 48000:
	default:
		return nil, fmt.Errorf("webrtc vad: unsupported sample rate %d", cfg.SampleRate)
	}
	switch cfg.FrameDurationMs {
	case 10, 20, 30:
	default:
		return nil, fmt.Errorf("webrtc vad: unsupported frame duration %d ms", cfg.FrameDurationMs)
	}
	if cfg.Aggressiveness < 0 || cfg.Aggressiveness > 3 {
		return nil, fmt.Errorf("webrtc vad: aggressiveness %d out of range [0,3]", cfg.Aggressiveness)
	}

	inst, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("webrtc vad: create detector: %w", err)
	}
	if err := inst.SetMode(cfg.Aggressiveness); err != nil {
		return nil, fmt.Errorf("webrtc vad: set mode %d: %w", cfg.Aggressiveness, err)
	}

	return &session{
		inst:       inst,
		sampleRate: cfg.SampleRate,
		frameBytes: cfg.FrameBytes(),
	}, nil
}

// session wraps one WebRTC detector instance.
type session struct {
	inst       *webrtcvad.VAD
	sampleRate int
	frameBytes int
	closed     bool
}

var _ vad.Session = (*session)(nil)

// IsSpeech classifies one frame. The frame length must match the configured
// frame duration exactly; the detector rejects partial frames.
func (s *session) IsSpeech(frame []byte) (bool, error) {
	if s.closed {
		return false, errors.New("webrtc vad: session is closed")
	}
	if len(frame) != s.frameBytes {
		return false, fmt.Errorf("webrtc vad: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}
	active, err := s.inst.Process(s.sampleRate, frame)
	if err != nil {
		return false, fmt.Errorf("webrtc vad: process frame: %w", err)
	}
	return active, nil
}

// Close marks the session unusable and drops the detector instance; its
// memory is reclaimed by the runtime.
func (s *session) Close() error {
	s.closed = true
	s.inst = nil
	return nil
}
