// Package video turns the decimated frames of an attempt recording into
// suspicion events.
//
// For every frame, the Detector asks the vision analyzer for face landmark
// meshes and object detections. Faces go through head-pose estimation and
// emit LOOK_AWAY when the examinee's yaw leaves the screen cone; objects
// emit PHONE_DETECTED per confident phone box and a single MULTIPLE_PEOPLE
// per frame when more than one person is visible.
//
// Frames are decimated at 2 fps, so frame n (1-based) covers timestamp
// n × 0.5 s. A frame that cannot be read, decoded or analysed is logged and
// skipped; a single bad frame never fails the job.
package video

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"log/slog"
	"math"
	"os"

	"github.com/invigil/invigil/internal/event"
	"github.com/invigil/invigil/pkg/vision"
)

const (
	// frameSeconds is the playback time covered by one decimated frame.
	frameSeconds = 0.5

	// lookAwayYawDegrees is the |yaw| that must be strictly exceeded to emit
	// LOOK_AWAY.
	lookAwayYawDegrees = 30.0

	// detectionConfidenceFloor gates object detections; a box must be
	// strictly more confident to count.
	detectionConfidenceFloor = 0.5

	phoneClass  = "cell phone"
	personClass = "person"
)

// Option is a functional option for configuring a Detector.
type Option func(*Detector)

// WithLogger sets the logger used for frame diagnostics. Defaults to
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.logger = l
		}
	}
}

// Detector runs the video pipeline for one recording at a time. It holds no
// per-recording state, so a single Detector may serve concurrent jobs.
type Detector struct {
	analyzer vision.Analyzer
	logger   *slog.Logger
}

// NewDetector creates a Detector backed by the given analyzer.
func NewDetector(analyzer vision.Analyzer, opts ...Option) *Detector {
	d := &Detector{
		analyzer: analyzer,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Analyze walks the frames in playback order and returns their suspicion
// events. framePaths must be ordered; the 1-based position determines each
// frame's number and timestamp. Only context cancellation aborts the walk.
func (d *Detector) Analyze(ctx context.Context, framePaths []string) ([]event.Event, error) {
	var events []event.Event
	for i, path := range framePaths {
		if err := ctx.Err(); err != nil {
			return events, fmt.Errorf("video: analysis interrupted: %w", err)
		}
		events = append(events, d.analyzeFrame(ctx, path, i+1)...)
	}
	d.logger.Debug("video analysis complete", "frames", len(framePaths), "events", len(events))
	return events, nil
}

// analyzeFrame inspects one frame. All failure modes degrade to "no events
// from this frame".
func (d *Detector) analyzeFrame(ctx context.Context, path string, frameNumber int) []event.Event {
	frame, err := os.ReadFile(path)
	if err != nil {
		d.logger.Warn("frame unreadable, skipping", "frame", frameNumber, "error", err)
		return nil
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(frame))
	if err != nil {
		d.logger.Debug("frame undecodable, skipping", "frame", frameNumber, "error", err)
		return nil
	}

	ts := float64(frameNumber) * frameSeconds
	var events []event.Event

	faces, err := d.analyzer.DetectFaces(ctx, frame)
	if err != nil {
		d.logger.Warn("face detection failed", "frame", frameNumber, "error", err)
	} else {
		for _, face := range faces {
			pitch, yaw, roll, err := estimatePose(face.Points, cfg.Width, cfg.Height)
			if err != nil {
				d.logger.Debug("head pose unavailable", "frame", frameNumber, "error", err)
				continue
			}
			if math.Abs(yaw) > lookAwayYawDegrees {
				events = append(events, event.Event{
					Kind:      event.LookAway,
					Timestamp: ts,
					Extra: map[string]any{
						"yaw":          yaw,
						"pitch":        pitch,
						"roll":         roll,
						"frame_number": frameNumber,
					},
				})
			}
		}
	}

	objects, err := d.analyzer.DetectObjects(ctx, frame)
	if err != nil {
		d.logger.Warn("object detection failed", "frame", frameNumber, "error", err)
		return events
	}

	personCount := 0
	for _, obj := range objects {
		if obj.Confidence <= detectionConfidenceFloor {
			continue
		}
		switch obj.ClassName {
		case phoneClass:
			events = append(events, event.Event{
				Kind:      event.PhoneDetected,
				Timestamp: ts,
				Extra: map[string]any{
					"confidence":   obj.Confidence,
					"frame_number": frameNumber,
					"bbox":         []float64{obj.Box[0], obj.Box[1], obj.Box[2], obj.Box[3]},
				},
			})
		case personClass:
			personCount++
		}
	}
	if personCount > 1 {
		events = append(events, event.Event{
			Kind:      event.MultiplePeople,
			Timestamp: ts,
			Extra: map[string]any{
				"person_count": personCount,
				"frame_number": frameNumber,
			},
		})
	}
	return events
}
