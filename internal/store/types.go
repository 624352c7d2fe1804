package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobName is the queue topic this worker consumes.
const JobName = "proctor.analyse"

// Outcome is the terminal state of a settled job.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

// Job is one claimed queue row. The worker only ever sees jobs in the
// active state; everything else about the row stays with the queue.
type Job struct {
	// ID identifies the job row.
	ID string

	// Payload is the raw enqueued JSON. Parse with [ParsePayload].
	Payload []byte

	// RetryCount is how many times this job has been claimed, this claim
	// included.
	RetryCount int32
}

// Payload is the decoded job payload.
type Payload struct {
	// AssetID addresses the recording blob.
	AssetID string `json:"assetId"`

	// AttemptID addresses the attempt under analysis.
	AttemptID string `json:"attemptId"`

	// DatabaseStored is accepted for compatibility with older enqueuers
	// and ignored: recordings are always read from the asset table.
	DatabaseStored *bool `json:"databaseStored,omitempty"`
}

// ParsePayload decodes and validates a job payload. A payload missing
// either id is permanently malformed: the job can never succeed.
func ParsePayload(raw []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("store: parse job payload: %w", err)
	}
	if p.AssetID == "" {
		return Payload{}, fmt.Errorf("store: job payload missing assetId")
	}
	if p.AttemptID == "" {
		return Payload{}, fmt.Errorf("store: job payload missing attemptId")
	}
	return p, nil
}

// TestContext describes the test an attempt belongs to, resolved at
// processing time.
type TestContext struct {
	// IsPublic selects which attempt table carries this attempt.
	IsPublic bool

	// TotalQuestions is the owning test's question count, at least 1.
	TotalQuestions int

	// DurationMinutes is how long the attempt ran, at least 1.
	DurationMinutes float64

	// StartedAt anchors detector timestamps to wall-clock time when
	// persisting events. Zero when the attempt has no recorded start, in
	// which case offsets are stored as seconds since the Unix epoch.
	StartedAt time.Time
}

// DefaultTestContext is the fallback when the attempt cannot be resolved:
// a private thirty-question, sixty-minute test.
func DefaultTestContext() TestContext {
	return TestContext{IsPublic: false, TotalQuestions: 30, DurationMinutes: 60}
}
