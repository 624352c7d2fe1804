package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/invigil/invigil/pkg/vision"
	"github.com/invigil/invigil/pkg/vision/mock"
)

func TestVisionBreaker_ForwardsResults(t *testing.T) {
	inner := &mock.Analyzer{
		FaceResults:   [][]vision.FaceLandmarks{{{Points: []vision.Point{{X: 0.5, Y: 0.5}}}}},
		ObjectResults: [][]vision.Detection{{{ClassName: "cell phone", Confidence: 0.9}}},
	}
	vb := NewVisionBreaker(inner, CircuitBreakerConfig{})

	faces, err := vb.DetectFaces(context.Background(), []byte("frame"))
	if err != nil {
		t.Fatalf("DetectFaces: %v", err)
	}
	if len(faces) != 1 || len(faces[0].Points) != 1 {
		t.Errorf("faces = %v, want the scripted mesh", faces)
	}

	objects, err := vb.DetectObjects(context.Background(), []byte("frame"))
	if err != nil {
		t.Fatalf("DetectObjects: %v", err)
	}
	if len(objects) != 1 || objects[0].ClassName != "cell phone" {
		t.Errorf("objects = %v, want the scripted detection", objects)
	}

	if got := vb.State(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
}

func TestVisionBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	inner := &mock.Analyzer{DetectFacesErr: errTest}
	vb := NewVisionBreaker(inner, CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})

	for i := 0; i < 2; i++ {
		if _, err := vb.DetectFaces(context.Background(), nil); !errors.Is(err, errTest) {
			t.Fatalf("call %d: err = %v, want errTest", i, err)
		}
	}

	// The breaker is open now: calls are rejected without reaching the
	// analyzer.
	if _, err := vb.DetectFaces(context.Background(), nil); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if calls := len(inner.DetectFacesCalls); calls != 2 {
		t.Errorf("inner analyzer saw %d calls, want 2", calls)
	}
	if got := vb.State(); got != StateOpen {
		t.Errorf("state = %v, want open", got)
	}
}

func TestVisionBreaker_BreakerIsSharedAcrossCalls(t *testing.T) {
	inner := &mock.Analyzer{DetectFacesErr: errTest, DetectObjectsErr: errTest}
	vb := NewVisionBreaker(inner, CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})

	// One failure from each method trips the shared breaker.
	_, _ = vb.DetectFaces(context.Background(), nil)
	_, _ = vb.DetectObjects(context.Background(), nil)

	if _, err := vb.DetectObjects(context.Background(), nil); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
}

type pingingAnalyzer struct {
	mock.Analyzer
	pingErr error
}

func (p *pingingAnalyzer) Ping(context.Context) error { return p.pingErr }

func TestVisionBreaker_PingForwardsAndBypassesBreaker(t *testing.T) {
	inner := &pingingAnalyzer{pingErr: errTest}
	inner.DetectFacesErr = errTest
	vb := NewVisionBreaker(inner, CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})

	// Trip the breaker, then confirm the probe still reaches the analyzer.
	_, _ = vb.DetectFaces(context.Background(), nil)
	if got := vb.State(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}
	if err := vb.Ping(context.Background()); !errors.Is(err, errTest) {
		t.Errorf("Ping err = %v, want errTest", err)
	}
}

func TestVisionBreaker_PingWithoutProbe(t *testing.T) {
	vb := NewVisionBreaker(&mock.Analyzer{}, CircuitBreakerConfig{})
	if err := vb.Ping(context.Background()); err != nil {
		t.Errorf("Ping err = %v, want nil for an analyzer without a probe", err)
	}
}
