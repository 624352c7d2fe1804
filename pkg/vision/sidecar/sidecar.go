// Package sidecar implements vision.Analyzer against the model-serving
// sidecar process.
//
// The sidecar hosts the face-mesh and object-detection models behind a small
// REST API: POST /v1/faces and POST /v1/objects both accept a
// multipart/form-data body with the JPEG frame in the "frame" field and the
// object-model name in the "model" field, and reply with JSON. GET /healthz
// reports readiness.
//
// Usage:
//
//	a, err := sidecar.New("http://127.0.0.1:9824",
//	    sidecar.WithModel("yolov8n.pt"),
//	)
//	faces, err := a.DetectFaces(ctx, jpeg)
package sidecar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/invigil/invigil/pkg/vision"
)

const (
	facesPath   = "/v1/faces"
	objectsPath = "/v1/objects"
	healthPath  = "/healthz"

	defaultTimeout = 30 * time.Second
)

// Compile-time assertion that Analyzer satisfies vision.Analyzer.
var _ vision.Analyzer = (*Analyzer)(nil)

// Option is a functional option for configuring an Analyzer.
type Option func(*Analyzer)

// WithModel sets the object-detection model name forwarded to the sidecar
// with every request (e.g. "yolov8n.pt"). When empty the sidecar uses
// whichever model it was started with.
func WithModel(model string) Option {
	return func(a *Analyzer) { a.model = model }
}

// WithTimeout sets the per-request timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(a *Analyzer) { a.httpClient.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client, e.g. to share a
// transport or to inject a test client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Analyzer) { a.httpClient = c }
}

// Analyzer implements vision.Analyzer backed by the sidecar's REST API. It
// is safe for concurrent use.
type Analyzer struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// New creates an Analyzer that talks to the sidecar at baseURL (e.g.
// "http://127.0.0.1:9824"). baseURL must be non-empty.
func New(baseURL string, opts ...Option) (*Analyzer, error) {
	if baseURL == "" {
		return nil, errors.New("sidecar: baseURL must not be empty")
	}
	a := &Analyzer{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// DetectFaces posts the frame to /v1/faces and returns the landmark meshes.
func (a *Analyzer) DetectFaces(ctx context.Context, frame []byte) ([]vision.FaceLandmarks, error) {
	var result struct {
		Faces []vision.FaceLandmarks `json:"faces"`
	}
	if err := a.post(ctx, facesPath, frame, &result); err != nil {
		return nil, fmt.Errorf("sidecar: detect faces: %w", err)
	}
	return result.Faces, nil
}

// DetectObjects posts the frame to /v1/objects and returns the detections.
func (a *Analyzer) DetectObjects(ctx context.Context, frame []byte) ([]vision.Detection, error) {
	var result struct {
		Objects []vision.Detection `json:"objects"`
	}
	if err := a.post(ctx, objectsPath, frame, &result); err != nil {
		return nil, fmt.Errorf("sidecar: detect objects: %w", err)
	}
	return result.Objects, nil
}

// Ping checks the sidecar's /healthz endpoint. It returns nil when the
// sidecar answers 200, an error otherwise. Used by readiness probes.
func (a *Analyzer) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+healthPath, nil)
	if err != nil {
		return fmt.Errorf("sidecar: create health request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sidecar: health request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sidecar: health returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// post uploads the frame as multipart/form-data to the given path and
// decodes the JSON response into out.
func (a *Analyzer) post(ctx context.Context, path string, frame []byte, out any) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("frame", "frame.jpg")
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(frame); err != nil {
		return fmt.Errorf("write frame data: %w", err)
	}
	if a.model != "" {
		if err := mw.WriteField("model", a.model); err != nil {
			return fmt.Errorf("write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, &body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse JSON response: %w", err)
	}
	return nil
}
