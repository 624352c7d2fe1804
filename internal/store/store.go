// Package store defines the persistence gateway between the analysis core
// and the shared PostgreSQL database.
//
// The database is owned by the web application; this worker consumes its
// schema. Four narrow interfaces isolate the core from SQL and transport
// concerns:
//
//   - [Queue]: claim and settle jobs on the shared job table.
//   - [Assets]: fetch recorded exam blobs.
//   - [Contexts]: resolve an attempt's test context (public vs private,
//     question count, duration).
//   - [Results]: persist the analysis outcome — events plus risk score —
//     as one transactional unit.
//
// The production implementation lives in the postgres subpackage; the mock
// subpackage provides scripted doubles for runner tests.
//
// Every implementation must be safe for concurrent use.
package store

import (
	"context"

	"github.com/invigil/invigil/internal/event"
	"github.com/invigil/invigil/internal/risk"
)

// Queue claims and settles analysis jobs. Mutual exclusion between
// competing workers is the queue's concern: a claimed job is visible as
// active to everyone else until settled or reset by the queue's own
// orchestrator.
type Queue interface {
	// ClaimNext atomically claims the oldest runnable job: state moves to
	// active, started_on is stamped and the retry counter increments, all
	// in one statement so two workers can never claim the same row.
	// Returns (nil, nil) when the queue is empty.
	ClaimNext(ctx context.Context) (*Job, error)

	// Settle terminally marks a claimed job completed or failed and stamps
	// completed_on.
	Settle(ctx context.Context, jobID string, outcome Outcome) error
}

// Assets fetches recording blobs.
type Assets interface {
	// FetchAsset returns the raw recording bytes for assetID.
	// Returns [ErrNotFound] when no such asset exists.
	FetchAsset(ctx context.Context, assetID string) ([]byte, error)
}

// Contexts resolves the test context an attempt was made under.
type Contexts interface {
	// ResolveTestContext probes the private attempt table first, then the
	// public one via its link. Missing rows or fields degrade to
	// [DefaultTestContext] values rather than failing the analysis; a
	// database error returns the defaults alongside the error so callers
	// can log and proceed.
	ResolveTestContext(ctx context.Context, attemptID string) (TestContext, error)
}

// Results persists the outcome of one analysis.
type Results interface {
	// SaveAnalysis writes all events and the risk score/breakdown for the
	// attempt in a single transaction: either everything lands or nothing
	// does, so a stored score always has its supporting evidence.
	SaveAnalysis(ctx context.Context, attemptID string, tctx TestContext, events []event.Event, breakdown risk.Breakdown) error
}

// Gateway bundles the four persistence capabilities the worker needs.
type Gateway interface {
	Queue
	Assets
	Contexts
	Results
}
