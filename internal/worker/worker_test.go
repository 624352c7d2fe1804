package worker_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/invigil/invigil/internal/event"
	"github.com/invigil/invigil/internal/risk"
	"github.com/invigil/invigil/internal/store"
	"github.com/invigil/invigil/internal/store/mock"
	"github.com/invigil/invigil/internal/worker"
)

const validPayload = `{"assetId":"asset-1","attemptId":"attempt-1","databaseStored":true}`

// ───────────────────────────── test fakes ─────────────────────────────────

type fakeExtractor struct {
	mu        sync.Mutex
	frames    []string
	framesErr error
	audioErr  error
	srcs      []string
}

func (f *fakeExtractor) ExtractFrames(_ context.Context, src, _ string) ([]string, error) {
	f.mu.Lock()
	f.srcs = append(f.srcs, src)
	f.mu.Unlock()
	if f.framesErr != nil {
		return nil, f.framesErr
	}
	return f.frames, nil
}

func (f *fakeExtractor) ExtractAudio(_ context.Context, _, _ string) error {
	return f.audioErr
}

// lastSrc returns the recording path of the most recent frame extraction.
func (f *fakeExtractor) lastSrc() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.srcs) == 0 {
		return ""
	}
	return f.srcs[len(f.srcs)-1]
}

type fakeVideo struct {
	mu     sync.Mutex
	events []event.Event
	err    error
	calls  [][]string
}

func (f *fakeVideo) Analyze(_ context.Context, framePaths []string) ([]event.Event, error) {
	f.mu.Lock()
	f.calls = append(f.calls, framePaths)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

type fakeAudio struct {
	mu     sync.Mutex
	events []event.Event
	err    error
	calls  []string
}

func (f *fakeAudio) Analyze(_ context.Context, wavPath string) ([]event.Event, error) {
	f.mu.Lock()
	f.calls = append(f.calls, wavPath)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

func (f *fakeAudio) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// ───────────────────────────── helpers ────────────────────────────────────

func newRunner(t *testing.T, gw store.Gateway, ex worker.Extractor, v worker.VideoAnalyzer, a worker.AudioAnalyzer) *worker.Runner {
	t.Helper()
	r, err := worker.New(
		worker.Deps{Gateway: gw, Extractor: ex, Video: v, Audio: a},
		worker.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		worker.WithPollInterval(2*time.Millisecond),
		worker.WithErrorBackoff(2*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

// startRunner launches r.Run and returns a stop function that cancels the
// loop and waits for it to exit.
func startRunner(t *testing.T, r *worker.Runner) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run returned %v, want nil", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Run did not stop after cancellation")
		}
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func findCall(t *testing.T, gw *mock.Gateway, method string) mock.Call {
	t.Helper()
	for _, c := range gw.Calls() {
		if c.Method == method {
			return c
		}
	}
	t.Fatalf("no %s call recorded", method)
	return mock.Call{}
}

func analyseJob(id, payload string) *store.Job {
	return &store.Job{ID: id, Payload: []byte(payload), RetryCount: 1}
}

// ───────────────────────────── tests ──────────────────────────────────────

func TestRunner_CompletesJob(t *testing.T) {
	gw := &mock.Gateway{
		Jobs:   []*store.Job{analyseJob("job-1", validPayload)},
		Assets: map[string][]byte{"asset-1": []byte("webm-bytes")},
	}
	ex := &fakeExtractor{frames: []string{"frame_0001.jpg", "frame_0002.jpg"}}
	v := &fakeVideo{events: []event.Event{
		{Kind: event.PhoneDetected, Timestamp: 3.5, Extra: map[string]any{"confidence": 0.91}},
	}}
	a := &fakeAudio{events: []event.Event{
		{Kind: event.SuspiciousSilence, Timestamp: 40, Extra: map[string]any{"duration": 25.0}},
	}}

	stop := startRunner(t, newRunner(t, gw, ex, v, a))
	waitFor(t, func() bool { return gw.CallCount("Settle") >= 1 })
	stop()

	settle := findCall(t, gw, "Settle")
	if got := settle.Args[0].(string); got != "job-1" {
		t.Errorf("settled job %q, want job-1", got)
	}
	if got := settle.Args[1].(store.Outcome); got != store.OutcomeCompleted {
		t.Errorf("settled outcome %q, want %q", got, store.OutcomeCompleted)
	}

	fetch := findCall(t, gw, "FetchAsset")
	if got := fetch.Args[0].(string); got != "asset-1" {
		t.Errorf("fetched asset %q, want asset-1", got)
	}

	save := findCall(t, gw, "SaveAnalysis")
	if got := save.Args[0].(string); got != "attempt-1" {
		t.Errorf("saved attempt %q, want attempt-1", got)
	}
	if got := save.Args[1].(store.TestContext); got != store.DefaultTestContext() {
		t.Errorf("saved test context %+v, want defaults", got)
	}
	events := save.Args[2].([]event.Event)
	if len(events) != 2 {
		t.Fatalf("saved %d events, want 2", len(events))
	}
	if events[0].Kind != event.PhoneDetected || events[1].Kind != event.SuspiciousSilence {
		t.Errorf("saved event kinds %v/%v, want video stream before audio", events[0].Kind, events[1].Kind)
	}
	breakdown := save.Args[3].(risk.Breakdown)
	if breakdown.TotalScore <= 0 {
		t.Errorf("breakdown total score = %v, want > 0", breakdown.TotalScore)
	}
	if breakdown.RiskCategory == "" {
		t.Error("breakdown risk category is empty")
	}

	// The video analyzer must see exactly the extracted frame list and the
	// audio analyzer a wav inside the job's temp directory.
	if len(v.calls) != 1 || len(v.calls[0]) != 2 {
		t.Fatalf("video analyzer calls = %v, want one call with 2 frames", v.calls)
	}
	if a.callCount() != 1 || !strings.HasSuffix(a.calls[0], "audio.wav") {
		t.Fatalf("audio analyzer calls = %v, want one call on audio.wav", a.calls)
	}

	// The per-job temp directory must be gone once the job settles.
	src := ex.lastSrc()
	if src == "" {
		t.Fatal("extractor never saw the recording")
	}
	if _, err := os.Stat(filepath.Dir(src)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("temp dir %s still exists after settlement", filepath.Dir(src))
	}
}

func TestRunner_MalformedPayloadFailsJob(t *testing.T) {
	gw := &mock.Gateway{
		Jobs: []*store.Job{analyseJob("job-1", `{"assetId":"asset-1"}`)},
	}

	stop := startRunner(t, newRunner(t, gw, &fakeExtractor{}, &fakeVideo{}, &fakeAudio{}))
	waitFor(t, func() bool { return gw.CallCount("Settle") >= 1 })
	stop()

	settle := findCall(t, gw, "Settle")
	if got := settle.Args[1].(store.Outcome); got != store.OutcomeFailed {
		t.Errorf("settled outcome %q, want %q", got, store.OutcomeFailed)
	}
	if n := gw.CallCount("FetchAsset"); n != 0 {
		t.Errorf("FetchAsset called %d times for an unparseable payload", n)
	}
}

func TestRunner_MissingAssetFailsJob(t *testing.T) {
	gw := &mock.Gateway{
		Jobs: []*store.Job{analyseJob("job-1", validPayload)},
	}

	stop := startRunner(t, newRunner(t, gw, &fakeExtractor{}, &fakeVideo{}, &fakeAudio{}))
	waitFor(t, func() bool { return gw.CallCount("Settle") >= 1 })
	stop()

	settle := findCall(t, gw, "Settle")
	if got := settle.Args[1].(store.Outcome); got != store.OutcomeFailed {
		t.Errorf("settled outcome %q, want %q", got, store.OutcomeFailed)
	}
	if n := gw.CallCount("SaveAnalysis"); n != 0 {
		t.Errorf("SaveAnalysis called %d times after a failed fetch", n)
	}
}

func TestRunner_VideoFailureFailsJob(t *testing.T) {
	gw := &mock.Gateway{
		Jobs:   []*store.Job{analyseJob("job-1", validPayload)},
		Assets: map[string][]byte{"asset-1": []byte("webm-bytes")},
	}
	ex := &fakeExtractor{frames: []string{"frame_0001.jpg"}}
	v := &fakeVideo{err: errors.New("vision sidecar unreachable")}

	stop := startRunner(t, newRunner(t, gw, ex, v, &fakeAudio{}))
	waitFor(t, func() bool { return gw.CallCount("Settle") >= 1 })
	stop()

	settle := findCall(t, gw, "Settle")
	if got := settle.Args[1].(store.Outcome); got != store.OutcomeFailed {
		t.Errorf("settled outcome %q, want %q", got, store.OutcomeFailed)
	}
	if n := gw.CallCount("SaveAnalysis"); n != 0 {
		t.Errorf("SaveAnalysis called %d times after a failed analysis", n)
	}

	// Failure paths clean up their temp directory too.
	src := ex.lastSrc()
	if src == "" {
		t.Fatal("extractor never saw the recording")
	}
	if _, err := os.Stat(filepath.Dir(src)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("temp dir %s still exists after failure", filepath.Dir(src))
	}
}

func TestRunner_AudioExtractionDegrades(t *testing.T) {
	gw := &mock.Gateway{
		Jobs:   []*store.Job{analyseJob("job-1", validPayload)},
		Assets: map[string][]byte{"asset-1": []byte("webm-bytes")},
	}
	ex := &fakeExtractor{
		frames:   []string{"frame_0001.jpg"},
		audioErr: errors.New("no audio stream in input"),
	}
	v := &fakeVideo{events: []event.Event{{Kind: event.LookAway, Timestamp: 10}}}
	a := &fakeAudio{events: []event.Event{{Kind: event.BackgroundNoise, Timestamp: 5}}}

	stop := startRunner(t, newRunner(t, gw, ex, v, a))
	waitFor(t, func() bool { return gw.CallCount("Settle") >= 1 })
	stop()

	// A recording without an audio track still completes on video evidence.
	settle := findCall(t, gw, "Settle")
	if got := settle.Args[1].(store.Outcome); got != store.OutcomeCompleted {
		t.Errorf("settled outcome %q, want %q", got, store.OutcomeCompleted)
	}
	if n := a.callCount(); n != 0 {
		t.Errorf("audio analyzer called %d times without an extracted wav", n)
	}

	save := findCall(t, gw, "SaveAnalysis")
	events := save.Args[2].([]event.Event)
	if len(events) != 1 || events[0].Kind != event.LookAway {
		t.Errorf("saved events %v, want only the video stream", events)
	}
}

func TestRunner_AudioAnalysisFailureFailsJob(t *testing.T) {
	gw := &mock.Gateway{
		Jobs:   []*store.Job{analyseJob("job-1", validPayload)},
		Assets: map[string][]byte{"asset-1": []byte("webm-bytes")},
	}
	ex := &fakeExtractor{frames: []string{"frame_0001.jpg"}}
	a := &fakeAudio{err: errors.New("wav: malformed header")}

	stop := startRunner(t, newRunner(t, gw, ex, &fakeVideo{}, a))
	waitFor(t, func() bool { return gw.CallCount("Settle") >= 1 })
	stop()

	settle := findCall(t, gw, "Settle")
	if got := settle.Args[1].(store.Outcome); got != store.OutcomeFailed {
		t.Errorf("settled outcome %q, want %q", got, store.OutcomeFailed)
	}
}

func TestRunner_SaveFailureFailsJob(t *testing.T) {
	gw := &mock.Gateway{
		Jobs:            []*store.Job{analyseJob("job-1", validPayload)},
		Assets:          map[string][]byte{"asset-1": []byte("webm-bytes")},
		SaveAnalysisErr: errors.New("deadlock detected"),
	}
	ex := &fakeExtractor{frames: []string{"frame_0001.jpg"}}

	stop := startRunner(t, newRunner(t, gw, ex, &fakeVideo{}, &fakeAudio{}))
	waitFor(t, func() bool { return gw.CallCount("Settle") >= 1 })
	stop()

	settle := findCall(t, gw, "Settle")
	if got := settle.Args[1].(store.Outcome); got != store.OutcomeFailed {
		t.Errorf("settled outcome %q, want %q", got, store.OutcomeFailed)
	}
}

func TestRunner_ResolvedContextFlowsToPersist(t *testing.T) {
	tctx := store.TestContext{
		IsPublic:        true,
		TotalQuestions:  80,
		DurationMinutes: 120,
		StartedAt:       time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	gw := &mock.Gateway{
		Jobs:              []*store.Job{analyseJob("job-1", validPayload)},
		Assets:            map[string][]byte{"asset-1": []byte("webm-bytes")},
		TestContextResult: &tctx,
	}
	ex := &fakeExtractor{frames: []string{"frame_0001.jpg"}}

	stop := startRunner(t, newRunner(t, gw, ex, &fakeVideo{}, &fakeAudio{}))
	waitFor(t, func() bool { return gw.CallCount("Settle") >= 1 })
	stop()

	save := findCall(t, gw, "SaveAnalysis")
	if got := save.Args[1].(store.TestContext); got != tctx {
		t.Errorf("saved test context %+v, want %+v", got, tctx)
	}
}

func TestRunner_ContextErrorStillScores(t *testing.T) {
	gw := &mock.Gateway{
		Jobs:           []*store.Job{analyseJob("job-1", validPayload)},
		Assets:         map[string][]byte{"asset-1": []byte("webm-bytes")},
		TestContextErr: errors.New("connection reset"),
	}
	ex := &fakeExtractor{frames: []string{"frame_0001.jpg"}}

	stop := startRunner(t, newRunner(t, gw, ex, &fakeVideo{}, &fakeAudio{}))
	waitFor(t, func() bool { return gw.CallCount("Settle") >= 1 })
	stop()

	// Context resolution is best effort: the job completes on defaults.
	settle := findCall(t, gw, "Settle")
	if got := settle.Args[1].(store.Outcome); got != store.OutcomeCompleted {
		t.Errorf("settled outcome %q, want %q", got, store.OutcomeCompleted)
	}
	save := findCall(t, gw, "SaveAnalysis")
	if got := save.Args[1].(store.TestContext); got != store.DefaultTestContext() {
		t.Errorf("saved test context %+v, want defaults", got)
	}
}

func TestRunner_ContinuesAfterFailedJob(t *testing.T) {
	gw := &mock.Gateway{
		Jobs: []*store.Job{
			analyseJob("job-1", `not json`),
			analyseJob("job-2", validPayload),
		},
		Assets: map[string][]byte{"asset-1": []byte("webm-bytes")},
	}
	ex := &fakeExtractor{frames: []string{"frame_0001.jpg"}}

	stop := startRunner(t, newRunner(t, gw, ex, &fakeVideo{}, &fakeAudio{}))
	waitFor(t, func() bool { return gw.CallCount("Settle") >= 2 })
	stop()

	var settles []mock.Call
	for _, c := range gw.Calls() {
		if c.Method == "Settle" {
			settles = append(settles, c)
		}
	}
	if len(settles) != 2 {
		t.Fatalf("recorded %d settles, want 2", len(settles))
	}
	if id, outcome := settles[0].Args[0].(string), settles[0].Args[1].(store.Outcome); id != "job-1" || outcome != store.OutcomeFailed {
		t.Errorf("first settle = (%s, %s), want (job-1, failed)", id, outcome)
	}
	if id, outcome := settles[1].Args[0].(string), settles[1].Args[1].(store.Outcome); id != "job-2" || outcome != store.OutcomeCompleted {
		t.Errorf("second settle = (%s, %s), want (job-2, completed)", id, outcome)
	}
}

func TestRunner_ClaimErrorBacksOff(t *testing.T) {
	gw := &mock.Gateway{ClaimNextErr: errors.New("connection refused")}

	stop := startRunner(t, newRunner(t, gw, &fakeExtractor{}, &fakeVideo{}, &fakeAudio{}))
	waitFor(t, func() bool { return gw.CallCount("ClaimNext") >= 3 })
	stop()

	if n := gw.CallCount("Settle"); n != 0 {
		t.Errorf("Settle called %d times with nothing claimed", n)
	}
}

func TestRunner_StopsWhenCancelled(t *testing.T) {
	r := newRunner(t, &mock.Gateway{}, &fakeExtractor{}, &fakeVideo{}, &fakeAudio{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	gw := &mock.Gateway{}
	ex := &fakeExtractor{}
	v := &fakeVideo{}
	a := &fakeAudio{}

	tests := []struct {
		name string
		deps worker.Deps
	}{
		{"nil gateway", worker.Deps{Extractor: ex, Video: v, Audio: a}},
		{"nil extractor", worker.Deps{Gateway: gw, Video: v, Audio: a}},
		{"nil video analyzer", worker.Deps{Gateway: gw, Extractor: ex, Audio: a}},
		{"nil audio analyzer", worker.Deps{Gateway: gw, Extractor: ex, Video: v}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := worker.New(tt.deps); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}

	if _, err := worker.New(worker.Deps{Gateway: gw, Extractor: ex, Video: v, Audio: a}); err != nil {
		t.Fatalf("all deps present: %v", err)
	}
}
