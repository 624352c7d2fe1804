// Package postgres implements the persistence gateway against the shared
// PostgreSQL database: the pg-boss job table for queueing and the
// application tables for assets, events and risk scores.
//
// The schema is owned by the web application. This package never migrates
// it; every statement assumes the tables already exist.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/invigil/invigil/internal/event"
	"github.com/invigil/invigil/internal/risk"
	"github.com/invigil/invigil/internal/store"
)

// Compile-time interface check. Gateway bundles all four store
// capabilities so one assertion covers Queue, Assets, Contexts and
// Results.
var _ store.Gateway = (*Gateway)(nil)

// Gateway is the PostgreSQL-backed [store.Gateway]. It holds a single
// [pgxpool.Pool] shared by all operations.
//
// All methods are safe for concurrent use.
type Gateway struct {
	pool *pgxpool.Pool
}

// New connects to the database at dsn and verifies the connection with a
// ping before returning.
func New(ctx context.Context, dsn string) (*Gateway, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres gateway: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres gateway: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres gateway: ping: %w", err)
	}

	return &Gateway{pool: pool}, nil
}

// Ping verifies database connectivity. The readiness probe calls this.
func (g *Gateway) Ping(ctx context.Context) error {
	if err := g.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres gateway: ping: %w", err)
	}
	return nil
}

// Close releases all connections held by the underlying pool. It should be
// called when the Gateway is no longer needed, typically via defer.
func (g *Gateway) Close() {
	g.pool.Close()
}

// ─────────────────────────────────────────────────────────────────────────────
// Queue
// ─────────────────────────────────────────────────────────────────────────────

// ClaimNext implements [store.Queue]. The claim is one statement: the
// inner SELECT picks the oldest runnable row under FOR UPDATE SKIP LOCKED
// and the outer UPDATE flips it to active, so concurrent workers never
// return the same row. Returns (nil, nil) when no job is runnable.
//
// Column names are unquoted on purpose: pg-boss creates its schema with
// unquoted identifiers, so both sides fold to lowercase.
func (g *Gateway) ClaimNext(ctx context.Context) (*store.Job, error) {
	const q = `
		UPDATE pgboss.job
		SET    state = 'active',
		       startedOn = NOW(),
		       retryCount = retryCount + 1
		WHERE  id = (
		    SELECT id FROM pgboss.job
		    WHERE  name = $1
		      AND  state = 'created'
		      AND  (startAfter IS NULL OR startAfter <= NOW())
		    ORDER  BY createdOn ASC
		    LIMIT  1
		    FOR UPDATE SKIP LOCKED
		)
		RETURNING id, data, retryCount`

	var job store.Job
	err := g.pool.QueryRow(ctx, q, store.JobName).Scan(&job.ID, &job.Payload, &job.RetryCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres gateway: claim job: %w", classify(err))
	}
	return &job, nil
}

// Settle implements [store.Queue]. It terminally marks the job completed
// or failed and stamps completedOn.
func (g *Gateway) Settle(ctx context.Context, jobID string, outcome store.Outcome) error {
	const q = `
		UPDATE pgboss.job
		SET    state = $2,
		       completedOn = NOW()
		WHERE  id = $1`

	tag, err := g.pool.Exec(ctx, q, jobID, string(outcome))
	if err != nil {
		return fmt.Errorf("postgres gateway: settle job: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres gateway: settle job %q: %w", jobID, store.ErrNotFound)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Assets
// ─────────────────────────────────────────────────────────────────────────────

// FetchAsset implements [store.Assets]. A missing row and an empty blob
// both report [store.ErrNotFound]: neither can ever produce an analysis.
func (g *Gateway) FetchAsset(ctx context.Context, assetID string) ([]byte, error) {
	const q = `SELECT data FROM "ProctorAsset" WHERE id = $1`

	var data []byte
	err := g.pool.QueryRow(ctx, q, assetID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres gateway: fetch asset %q: %w", assetID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres gateway: fetch asset: %w", classify(err))
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("postgres gateway: fetch asset %q: empty recording: %w", assetID, store.ErrNotFound)
	}
	return data, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Contexts
// ─────────────────────────────────────────────────────────────────────────────

// ResolveTestContext implements [store.Contexts]. It probes the private
// attempt table first and the public one (via its link row) second. An
// attempt found in neither degrades to [store.DefaultTestContext] with a
// nil error; only a database failure returns a non-nil error, and even
// then the defaults come back usable.
func (g *Gateway) ResolveTestContext(ctx context.Context, attemptID string) (store.TestContext, error) {
	const qPrivate = `
		SELECT a."startedAt",
		       a."completedAt",
		       (SELECT COUNT(*) FROM "Question" q WHERE q."testId" = a."testId")
		FROM   "TestAttempt" a
		WHERE  a.id = $1`

	const qPublic = `
		SELECT a."startedAt",
		       a."completedAt",
		       (SELECT COUNT(*) FROM "Question" q WHERE q."testId" = l."testId")
		FROM   "PublicTestAttempt" a
		JOIN   "PublicTestLink" l ON l.id = a."publicLinkId"
		WHERE  a.id = $1`

	tctx := store.DefaultTestContext()

	found, err := g.probeAttempt(ctx, qPrivate, attemptID, &tctx)
	if err != nil {
		return store.DefaultTestContext(), fmt.Errorf("postgres gateway: resolve context: %w", classify(err))
	}
	if found {
		return tctx, nil
	}

	found, err = g.probeAttempt(ctx, qPublic, attemptID, &tctx)
	if err != nil {
		return store.DefaultTestContext(), fmt.Errorf("postgres gateway: resolve context: %w", classify(err))
	}
	if found {
		tctx.IsPublic = true
		return tctx, nil
	}

	// Unknown attempt. Scoring still proceeds, on defaults.
	return store.DefaultTestContext(), nil
}

// probeAttempt runs one attempt lookup and folds the row into tctx.
// Reports false without error when the row does not exist.
func (g *Gateway) probeAttempt(ctx context.Context, q, attemptID string, tctx *store.TestContext) (bool, error) {
	var (
		startedAt   *time.Time
		completedAt *time.Time
		questions   int
	)
	err := g.pool.QueryRow(ctx, q, attemptID).Scan(&startedAt, &completedAt, &questions)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if questions > 0 {
		tctx.TotalQuestions = questions
	}
	if startedAt != nil {
		tctx.StartedAt = *startedAt
		if completedAt != nil {
			tctx.DurationMinutes = completedAt.Sub(*startedAt).Minutes()
			if tctx.DurationMinutes < 1 {
				tctx.DurationMinutes = 1
			}
		}
	}
	return true, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Results
// ─────────────────────────────────────────────────────────────────────────────

// SaveAnalysis implements [store.Results]. Events and the score update
// land in one transaction; a stored score therefore always has its
// supporting evidence rows.
//
// Event rows get fresh UUIDs. Detector timestamps are offsets from
// recording start, so the stored ts is the attempt's startedAt plus the
// offset; attempts with no recorded start fall back to the Unix epoch as
// base, preserving the offsets as absolute seconds.
func (g *Gateway) SaveAnalysis(ctx context.Context, attemptID string, tctx store.TestContext, events []event.Event, breakdown risk.Breakdown) error {
	breakdownJSON, err := json.Marshal(breakdown)
	if err != nil {
		return fmt.Errorf("postgres gateway: marshal breakdown: %w", err)
	}

	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres gateway: begin save: %w", classify(err))
	}
	defer tx.Rollback(ctx)

	const insertEvent = `
		INSERT INTO "ProctorEvent" (id, "attemptId", type, ts, extra)
		VALUES ($1, $2, $3, $4, $5)`

	base := tctx.StartedAt
	if base.IsZero() {
		base = time.Unix(0, 0).UTC()
	}
	for _, ev := range events {
		extra := ev.Extra
		if extra == nil {
			extra = map[string]any{}
		}
		extraJSON, err := json.Marshal(extra)
		if err != nil {
			return fmt.Errorf("postgres gateway: marshal event extra: %w", err)
		}
		ts := base.Add(time.Duration(ev.Timestamp * float64(time.Second)))
		_, err = tx.Exec(ctx, insertEvent, uuid.NewString(), attemptID, string(ev.Kind), ts, extraJSON)
		if err != nil {
			return fmt.Errorf("postgres gateway: insert event: %w", classify(err))
		}
	}

	q := `
		UPDATE "TestAttempt"
		SET    "riskScore" = $1,
		       "riskScoreBreakdown" = $2,
		       "updatedAt" = NOW()
		WHERE  id = $3`
	if tctx.IsPublic {
		q = `
		UPDATE "PublicTestAttempt"
		SET    "riskScore" = $1,
		       "riskScoreBreakdown" = $2,
		       "updatedAt" = NOW()
		WHERE  id = $3`
	}

	tag, err := tx.Exec(ctx, q, breakdown.TotalScore, breakdownJSON, attemptID)
	if err != nil {
		return fmt.Errorf("postgres gateway: update risk score: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres gateway: update risk score: attempt %q: %w", attemptID, store.ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres gateway: commit save: %w", classify(err))
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Error classification
// ─────────────────────────────────────────────────────────────────────────────

// classify attaches a retry class to a database error. Data errors (22),
// integrity violations (23), schema errors (42) and unsupported features
// (0A) cannot be fixed by retrying; everything else, connection loss and
// serialization failures included, is left to the queue's retry budget.
func classify(err error) error {
	class := store.ClassTransient
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "22", "23", "42", "0A":
			class = store.ClassPermanent
		}
	}
	return &store.ClassifiedError{Class: class, Err: err}
}
