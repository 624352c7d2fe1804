// Package vision defines the Analyzer interface for frame-level vision
// models.
//
// An Analyzer answers two questions about a single still frame: where are
// the faces (as dense landmark meshes) and which objects are present (as
// classified bounding boxes). The proctoring pipeline feeds it the JPEG
// frames decimated from a recording and turns the answers into suspicion
// events.
//
// Implementations must be safe for concurrent use; the worker may analyse
// frames from several jobs at once.
package vision

import "context"

// Point is a single face-mesh landmark in normalized image coordinates
// (both axes in [0, 1], origin at the top-left corner).
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// FaceLandmarks is the dense landmark mesh of one detected face. The point
// order follows the face-mesh topology (468 points, 478 with refined iris
// landmarks); consumers index it positionally.
type FaceLandmarks struct {
	Points []Point `json:"points"`
}

// Detection is one classified object in a frame. Box is [x1, y1, x2, y2] in
// pixel coordinates.
type Detection struct {
	ClassID    int        `json:"class_id"`
	ClassName  string     `json:"class_name"`
	Confidence float64    `json:"confidence"`
	Box        [4]float64 `json:"box"`
}

// Analyzer runs vision models against a single encoded frame.
type Analyzer interface {
	// DetectFaces returns the landmark meshes of all faces found in the
	// JPEG-encoded frame. An empty slice means no face was detected.
	DetectFaces(ctx context.Context, frame []byte) ([]FaceLandmarks, error)

	// DetectObjects returns all classified objects found in the JPEG-encoded
	// frame, regardless of confidence; callers apply their own thresholds.
	DetectObjects(ctx context.Context, frame []byte) ([]Detection, error)
}
