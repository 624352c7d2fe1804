package resilience

import (
	"context"

	"github.com/invigil/invigil/pkg/vision"
)

// VisionBreaker implements [vision.Analyzer] with a shared circuit breaker
// around both detection calls. A recording decimates to thousands of frames;
// when the sidecar goes down mid-job the breaker turns every further frame
// into an instant [ErrCircuitOpen] instead of a full transport timeout, and
// the per-frame degradation upstream keeps the job moving.
type VisionBreaker struct {
	inner vision.Analyzer
	cb    *CircuitBreaker
}

// Compile-time interface assertion.
var _ vision.Analyzer = (*VisionBreaker)(nil)

// NewVisionBreaker wraps analyzer with a circuit breaker. An empty
// cfg.Name defaults to "vision".
func NewVisionBreaker(analyzer vision.Analyzer, cfg CircuitBreakerConfig) *VisionBreaker {
	if cfg.Name == "" {
		cfg.Name = "vision"
	}
	return &VisionBreaker{
		inner: analyzer,
		cb:    NewCircuitBreaker(cfg),
	}
}

// DetectFaces forwards to the wrapped analyzer when the breaker allows it.
func (v *VisionBreaker) DetectFaces(ctx context.Context, frame []byte) ([]vision.FaceLandmarks, error) {
	var out []vision.FaceLandmarks
	err := v.cb.Execute(func() error {
		var callErr error
		out, callErr = v.inner.DetectFaces(ctx, frame)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DetectObjects forwards to the wrapped analyzer when the breaker allows it.
func (v *VisionBreaker) DetectObjects(ctx context.Context, frame []byte) ([]vision.Detection, error) {
	var out []vision.Detection
	err := v.cb.Execute(func() error {
		var callErr error
		out, callErr = v.inner.DetectObjects(ctx, frame)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Ping forwards a readiness probe when the wrapped analyzer supports one.
// The probe bypasses the breaker so operators can watch the sidecar recover
// while the breaker is still open.
func (v *VisionBreaker) Ping(ctx context.Context) error {
	if p, ok := v.inner.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// State exposes the breaker state for diagnostics.
func (v *VisionBreaker) State() State {
	return v.cb.State()
}
