// Package store provides Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/merchops/projection-engine/projection"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	projections map[string]projection.Projection
	expired     map[string]projection.ExpiredProjection
	poFacts     map[string]projection.POFact
	runs        []projection.RunRecord
}

func NewMemory() *Memory {
	return &Memory{
		projections: make(map[string]projection.Projection),
		expired:     make(map[string]projection.ExpiredProjection),
		poFacts:     make(map[string]projection.POFact),
	}
}

// WithTx runs fn under the store's exclusive lock. Memory writes are atomic
// by construction, so rollback is not simulated; tests that need rollback
// semantics use the SQLite store.
func (m *Memory) WithTx(_ context.Context, fn func(projection.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&unlocked{m})
}

// unlocked exposes the same operations without re-acquiring the lock,
// for use inside WithTx.
type unlocked struct{ m *Memory }

// =============================================================================
// PROJECTIONS
// =============================================================================

func (m *Memory) InsertProjection(_ context.Context, p projection.Projection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertProjection(p)
}

func (u *unlocked) InsertProjection(_ context.Context, p projection.Projection) error {
	return u.m.insertProjection(p)
}

func (m *Memory) insertProjection(p projection.Projection) error {
	if _, ok := m.projections[p.ID]; ok {
		return fmt.Errorf("projection %s already exists", p.ID)
	}
	m.projections[p.ID] = p
	return nil
}

func (m *Memory) GetProjection(_ context.Context, id string) (*projection.Projection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getProjection(id)
}

func (u *unlocked) GetProjection(_ context.Context, id string) (*projection.Projection, error) {
	return u.m.getProjection(id)
}

func (m *Memory) getProjection(id string) (*projection.Projection, error) {
	p, ok := m.projections[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) GetOpenByKey(_ context.Context, key string) (*projection.Projection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getOpenByKey(key)
}

func (u *unlocked) GetOpenByKey(_ context.Context, key string) (*projection.Projection, error) {
	return u.m.getOpenByKey(key)
}

func (m *Memory) getOpenByKey(key string) (*projection.Projection, error) {
	for _, p := range m.projections {
		if p.Status.IsOpen() && p.Key() == key {
			cp := p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListProjections(_ context.Context, f projection.Filter) ([]projection.Projection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listProjections(f)
}

func (u *unlocked) ListProjections(_ context.Context, f projection.Filter) ([]projection.Projection, error) {
	return u.m.listProjections(f)
}

func (m *Memory) listProjections(f projection.Filter) ([]projection.Projection, error) {
	var out []projection.Projection
	for _, p := range m.projections {
		if f.Matches(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (m *Memory) OpenProjections(_ context.Context) ([]projection.Projection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.openProjections()
}

func (u *unlocked) OpenProjections(_ context.Context) ([]projection.Projection, error) {
	return u.m.openProjections()
}

func (m *Memory) openProjections() ([]projection.Projection, error) {
	return m.listProjections(projection.Filter{
		Statuses: []projection.MatchStatus{projection.StatusUnmatched, projection.StatusPartial},
	})
}

func (m *Memory) ProjectionByPONumber(_ context.Context, poNumber string) (*projection.Projection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.projectionByPONumber(poNumber)
}

func (u *unlocked) ProjectionByPONumber(_ context.Context, poNumber string) (*projection.Projection, error) {
	return u.m.projectionByPONumber(poNumber)
}

func (m *Memory) projectionByPONumber(poNumber string) (*projection.Projection, error) {
	for _, p := range m.projections {
		if p.MatchedPONumber != nil && *p.MatchedPONumber == poNumber {
			cp := p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) UpdateProjection(_ context.Context, p projection.Projection, expected projection.MatchStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateProjection(p, expected)
}

func (u *unlocked) UpdateProjection(_ context.Context, p projection.Projection, expected projection.MatchStatus) error {
	return u.m.updateProjection(p, expected)
}

func (m *Memory) updateProjection(p projection.Projection, expected projection.MatchStatus) error {
	current, ok := m.projections[p.ID]
	if !ok {
		return &projection.NotFoundError{Entity: "projection", ID: p.ID}
	}
	if current.Status != expected {
		return fmt.Errorf("projection %s: %w", p.ID, projection.ErrConcurrentModification)
	}
	m.projections[p.ID] = p
	return nil
}

// =============================================================================
// EXPIRED SNAPSHOTS
// =============================================================================

func (m *Memory) InsertExpired(_ context.Context, e projection.ExpiredProjection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertExpired(e)
}

func (u *unlocked) InsertExpired(_ context.Context, e projection.ExpiredProjection) error {
	return u.m.insertExpired(e)
}

func (m *Memory) insertExpired(e projection.ExpiredProjection) error {
	if _, ok := m.expired[e.ID]; ok {
		return fmt.Errorf("expired projection %s already exists", e.ID)
	}
	m.expired[e.ID] = e
	return nil
}

func (m *Memory) GetExpired(_ context.Context, id string) (*projection.ExpiredProjection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getExpired(id)
}

func (u *unlocked) GetExpired(_ context.Context, id string) (*projection.ExpiredProjection, error) {
	return u.m.getExpired(id)
}

func (m *Memory) getExpired(id string) (*projection.ExpiredProjection, error) {
	e, ok := m.expired[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *Memory) ListExpired(_ context.Context, status *projection.VerificationStatus) ([]projection.ExpiredProjection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listExpired(status)
}

func (u *unlocked) ListExpired(_ context.Context, status *projection.VerificationStatus) ([]projection.ExpiredProjection, error) {
	return u.m.listExpired(status)
}

func (m *Memory) listExpired(status *projection.VerificationStatus) ([]projection.ExpiredProjection, error) {
	var out []projection.ExpiredProjection
	for _, e := range m.expired {
		if status == nil || e.VerificationStatus == *status {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		}
		return out[a].ID < out[b].ID
	})
	return out, nil
}

func (m *Memory) UpdateExpired(_ context.Context, e projection.ExpiredProjection, expected projection.VerificationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateExpired(e, expected)
}

func (u *unlocked) UpdateExpired(_ context.Context, e projection.ExpiredProjection, expected projection.VerificationStatus) error {
	return u.m.updateExpired(e, expected)
}

func (m *Memory) updateExpired(e projection.ExpiredProjection, expected projection.VerificationStatus) error {
	current, ok := m.expired[e.ID]
	if !ok {
		return &projection.NotFoundError{Entity: "expired_projection", ID: e.ID}
	}
	if current.VerificationStatus != expected {
		return fmt.Errorf("expired projection %s: %w", e.ID, projection.ErrConcurrentModification)
	}
	m.expired[e.ID] = e
	return nil
}

// =============================================================================
// PO FACTS AND RUNS
// =============================================================================

func (m *Memory) UpsertPOFact(_ context.Context, f projection.POFact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertPOFact(f)
}

func (u *unlocked) UpsertPOFact(_ context.Context, f projection.POFact) error {
	return u.m.upsertPOFact(f)
}

func (m *Memory) upsertPOFact(f projection.POFact) error {
	m.poFacts[f.PONumber] = f
	return nil
}

func (m *Memory) GetPOFact(_ context.Context, poNumber string) (*projection.POFact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPOFact(poNumber)
}

func (u *unlocked) GetPOFact(_ context.Context, poNumber string) (*projection.POFact, error) {
	return u.m.getPOFact(poNumber)
}

func (m *Memory) getPOFact(poNumber string) (*projection.POFact, error) {
	f, ok := m.poFacts[poNumber]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

func (m *Memory) InsertRun(_ context.Context, r projection.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertRun(r)
}

func (u *unlocked) InsertRun(_ context.Context, r projection.RunRecord) error {
	return u.m.insertRun(r)
}

func (m *Memory) insertRun(r projection.RunRecord) error {
	m.runs = append(m.runs, r)
	return nil
}

func (m *Memory) ListRuns(_ context.Context, limit int) ([]projection.RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listRuns(limit)
}

func (u *unlocked) ListRuns(_ context.Context, limit int) ([]projection.RunRecord, error) {
	return u.m.listRuns(limit)
}

func (m *Memory) listRuns(limit int) ([]projection.RunRecord, error) {
	out := make([]projection.RunRecord, len(m.runs))
	copy(out, m.runs)
	sort.Slice(out, func(a, b int) bool { return out[a].StartedAt.After(out[b].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
