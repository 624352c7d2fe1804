// Package vad defines the Engine interface for voice activity detection
// backends.
//
// A VAD engine wraps a frame-level speech classifier (e.g. WebRTC VAD) and
// surfaces it as a per-stream session. Each session holds its own detector
// state, so multiple recordings can be scanned concurrently as long as every
// goroutine uses its own session.
//
// Detection is synchronous: IsSpeech returns a verdict for the supplied frame
// immediately, which makes it suitable for tight scan loops over decoded PCM.
package vad

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. It must match the rate of
	// the PCM frames passed to IsSpeech. WebRTC VAD supports 8000, 16000,
	// 32000 and 48000.
	SampleRate int

	// FrameDurationMs is the duration of each audio frame in milliseconds.
	// WebRTC VAD operates on 10, 20 or 30 ms frames; IsSpeech returns an
	// error when the supplied frame does not match this size.
	FrameDurationMs int

	// Aggressiveness selects how strictly non-speech is filtered out, from 0
	// (least aggressive, most frames classified as speech) to 3 (most
	// aggressive).
	Aggressiveness int
}

// FrameBytes returns the expected byte length of one frame of 16-bit mono
// PCM under this configuration.
func (c Config) FrameBytes() int {
	return c.SampleRate / 1000 * c.FrameDurationMs * 2
}

// Session classifies successive PCM frames of a single audio stream.
//
// A Session must not be shared between goroutines unless the implementation
// explicitly documents otherwise.
type Session interface {
	// IsSpeech reports whether the frame contains speech. The frame must be
	// raw little-endian 16-bit mono PCM at the sample rate and frame duration
	// the session was created with. Returns an error for a frame of the
	// wrong size or an internal detector failure.
	IsSpeech(frame []byte) (bool, error)

	// Close releases all resources associated with the session. After Close,
	// IsSpeech must return an error. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration. The
	// session is immediately ready to accept frames.
	//
	// Returns an error if the configuration is invalid (unsupported sample
	// rate, frame duration or aggressiveness) or if detector resources
	// cannot be allocated.
	NewSession(cfg Config) (Session, error)
}
