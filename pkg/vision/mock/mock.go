// Package mock provides a test double for the vision.Analyzer interface.
//
// Script per-frame results by index: the n-th DetectFaces call returns
// FaceResults[n] (or nil past the end), and likewise for DetectObjects and
// ObjectResults. Submitted frames are recorded for inspection.
package mock

import (
	"context"
	"sync"

	"github.com/invigil/invigil/pkg/vision"
)

// Analyzer is a mock implementation of vision.Analyzer.
type Analyzer struct {
	mu sync.Mutex

	// FaceResults[i] is returned by the i-th DetectFaces call. Calls past
	// the end of the slice return nil.
	FaceResults [][]vision.FaceLandmarks

	// ObjectResults[i] is returned by the i-th DetectObjects call. Calls
	// past the end of the slice return nil.
	ObjectResults [][]vision.Detection

	// DetectFacesErr, if non-nil, is returned by every DetectFaces call.
	DetectFacesErr error

	// DetectObjectsErr, if non-nil, is returned by every DetectObjects call.
	DetectObjectsErr error

	// --- Call records ---

	// DetectFacesCalls records a copy of the frame passed to each
	// DetectFaces call, in order.
	DetectFacesCalls [][]byte

	// DetectObjectsCalls records a copy of the frame passed to each
	// DetectObjects call, in order.
	DetectObjectsCalls [][]byte
}

// DetectFaces records the call and returns the next scripted result.
func (a *Analyzer) DetectFaces(_ context.Context, frame []byte) ([]vision.FaceLandmarks, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := len(a.DetectFacesCalls)
	cp := make([]byte, len(frame))
	copy(cp, frame)
	a.DetectFacesCalls = append(a.DetectFacesCalls, cp)
	if a.DetectFacesErr != nil {
		return nil, a.DetectFacesErr
	}
	if i < len(a.FaceResults) {
		return a.FaceResults[i], nil
	}
	return nil, nil
}

// DetectObjects records the call and returns the next scripted result.
func (a *Analyzer) DetectObjects(_ context.Context, frame []byte) ([]vision.Detection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := len(a.DetectObjectsCalls)
	cp := make([]byte, len(frame))
	copy(cp, frame)
	a.DetectObjectsCalls = append(a.DetectObjectsCalls, cp)
	if a.DetectObjectsErr != nil {
		return nil, a.DetectObjectsErr
	}
	if i < len(a.ObjectResults) {
		return a.ObjectResults[i], nil
	}
	return nil, nil
}

// ResetCalls clears all recorded call history. Thread-safe.
func (a *Analyzer) ResetCalls() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.DetectFacesCalls = nil
	a.DetectObjectsCalls = nil
}

// Ensure Analyzer implements vision.Analyzer at compile time.
var _ vision.Analyzer = (*Analyzer)(nil)
