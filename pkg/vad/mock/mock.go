// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that sessions are created with the expected Config.
// Use Session to script per-frame speech verdicts and inspect the frames
// that were submitted.
//
// Example:
//
//	sess := &mock.Session{Verdicts: []bool{true, true, false}}
//	eng := &mock.Engine{Session: sess}
//	handle, _ := eng.NewSession(cfg)
package mock

import (
	"sync"

	"github.com/invigil/invigil/pkg/vad"
)

// NewSessionCall records a single invocation of Engine.NewSession.
type NewSessionCall struct {
	// Cfg is the Config passed to NewSession.
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is the Session returned by NewSession. If nil, NewSession
	// returns a new default Session.
	Session vad.Session

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records every call to NewSession in order.
	NewSessionCalls []NewSessionCall
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// ResetCalls clears all recorded calls. Thread-safe.
func (e *Engine) ResetCalls() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = nil
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

// Session is a mock implementation of vad.Session. Verdicts scripts the
// result of successive IsSpeech calls; once the script is exhausted every
// further call returns Default.
type Session struct {
	mu sync.Mutex

	// Verdicts is consumed one entry per IsSpeech call, in order.
	Verdicts []bool

	// Default is returned by IsSpeech after Verdicts runs out.
	Default bool

	// IsSpeechErr, if non-nil, is returned by every IsSpeech call.
	IsSpeechErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// IsSpeechCallCount is the number of times IsSpeech was called.
	IsSpeechCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// IsSpeech records the call and returns the next scripted verdict.
func (s *Session) IsSpeech(frame []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.IsSpeechCallCount
	s.IsSpeechCallCount++
	if s.IsSpeechErr != nil {
		return false, s.IsSpeechErr
	}
	if i < len(s.Verdicts) {
		return s.Verdicts[i], nil
	}
	return s.Default, nil
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// ResetCalls clears all recorded call history. Thread-safe.
func (s *Session) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.IsSpeechCallCount = 0
	s.CloseCallCount = 0
}

// Ensure Session implements vad.Session at compile time.
var _ vad.Session = (*Session)(nil)
