// Package mock provides an in-memory test double for the persistence
// gateway.
//
// The mock records every method call for assertion in tests and exposes
// exported fields that control what it returns. It is safe for concurrent
// use via an internal [sync.Mutex].
//
// Typical usage:
//
//	gw := &mock.Gateway{
//		Jobs:   []*store.Job{{ID: "job-1", Payload: payload}},
//		Assets: map[string][]byte{"asset-1": blob},
//	}
//
//	// inject gw into the system under test …
//
//	if got := gw.CallCount("Settle"); got != 1 {
//		t.Errorf("expected 1 Settle call, got %d", got)
//	}
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/invigil/invigil/internal/event"
	"github.com/invigil/invigil/internal/risk"
	"github.com/invigil/invigil/internal/store"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Gateway is a configurable test double for [store.Gateway]. All exported
// *Err fields default to nil (success).
type Gateway struct {
	mu sync.Mutex

	// calls records every method invocation in order.
	calls []Call

	// ──── ClaimNext ────────────────────────────────────────────────────────
	// Jobs are handed out one per call, in order. Once drained, ClaimNext
	// reports an empty queue: (nil, nil).
	Jobs         []*store.Job
	ClaimNextErr error

	// ──── Settle ───────────────────────────────────────────────────────────
	SettleErr error

	// ──── FetchAsset ───────────────────────────────────────────────────────
	// Assets maps asset ids to recording blobs. Ids not present report
	// [store.ErrNotFound].
	Assets        map[string][]byte
	FetchAssetErr error

	// ──── ResolveTestContext ───────────────────────────────────────────────
	// TestContextResult is returned when non-nil; otherwise
	// [store.DefaultTestContext] is. TestContextErr comes back alongside
	// either, matching the degraded-but-usable contract.
	TestContextResult *store.TestContext
	TestContextErr    error

	// ──── SaveAnalysis ─────────────────────────────────────────────────────
	SaveAnalysisErr error
}

// Ensure Gateway satisfies the interface at compile time.
var _ store.Gateway = (*Gateway)(nil)

// Calls returns a copy of all recorded method invocations.
func (m *Gateway) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *Gateway) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls without altering response configuration.
func (m *Gateway) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// ClaimNext implements [store.Queue].
func (m *Gateway) ClaimNext(_ context.Context) (*store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "ClaimNext"})
	if m.ClaimNextErr != nil {
		return nil, m.ClaimNextErr
	}
	if len(m.Jobs) == 0 {
		return nil, nil
	}
	job := m.Jobs[0]
	m.Jobs = m.Jobs[1:]
	return job, nil
}

// Settle implements [store.Queue].
func (m *Gateway) Settle(_ context.Context, jobID string, outcome store.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Settle", Args: []any{jobID, outcome}})
	return m.SettleErr
}

// FetchAsset implements [store.Assets].
func (m *Gateway) FetchAsset(_ context.Context, assetID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "FetchAsset", Args: []any{assetID}})
	if m.FetchAssetErr != nil {
		return nil, m.FetchAssetErr
	}
	data, ok := m.Assets[assetID]
	if !ok {
		return nil, fmt.Errorf("mock gateway: asset %q: %w", assetID, store.ErrNotFound)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// ResolveTestContext implements [store.Contexts].
func (m *Gateway) ResolveTestContext(_ context.Context, attemptID string) (store.TestContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "ResolveTestContext", Args: []any{attemptID}})
	if m.TestContextResult != nil {
		return *m.TestContextResult, m.TestContextErr
	}
	return store.DefaultTestContext(), m.TestContextErr
}

// SaveAnalysis implements [store.Results].
func (m *Gateway) SaveAnalysis(_ context.Context, attemptID string, tctx store.TestContext, events []event.Event, breakdown risk.Breakdown) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	evs := make([]event.Event, len(events))
	copy(evs, events)
	m.calls = append(m.calls, Call{Method: "SaveAnalysis", Args: []any{attemptID, tctx, evs, breakdown}})
	return m.SaveAnalysisErr
}
