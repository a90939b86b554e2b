package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"WagerPool/internal/wager"
)

// Memory is an in-memory Store used by tests and single-process embedding.
// Serialization is a mutex per wager id; the registry map has its own lock.
type Memory struct {
	mu       sync.Mutex
	locks    map[uuid.UUID]*sync.Mutex
	wagers   map[uuid.UUID]*wager.Wager
	position map[uuid.UUID][]*wager.Position
	events   map[uuid.UUID][]EventRow
	payouts  map[uuid.UUID][]PayoutRow
	eventSeq int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		locks:    make(map[uuid.UUID]*sync.Mutex),
		wagers:   make(map[uuid.UUID]*wager.Wager),
		position: make(map[uuid.UUID][]*wager.Position),
		events:   make(map[uuid.UUID][]EventRow),
		payouts:  make(map[uuid.UUID][]PayoutRow),
	}
}

func (m *Memory) CreateWager(_ context.Context, w *wager.Wager) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	m.wagers[w.ID] = cloneWager(w)
	m.locks[w.ID] = &sync.Mutex{}
	return nil
}

func (m *Memory) GetWager(_ context.Context, id uuid.UUID) (*wager.Wager, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wagers[id]
	if !ok {
		return nil, wager.ErrNotFound
	}
	return cloneWager(w), nil
}

func (m *Memory) GetWagerWithPositions(_ context.Context, id uuid.UUID) (*wager.Wager, []*wager.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wagers[id]
	if !ok {
		return nil, nil, wager.ErrNotFound
	}
	return cloneWager(w), clonePositions(m.position[id]), nil
}

func (m *Memory) ListWagers(_ context.Context, groupID string, status *wager.Status) ([]WagerWithPositions, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []WagerWithPositions
	for id, w := range m.wagers {
		if w.GroupID != groupID {
			continue
		}
		if status != nil && w.Status != *status {
			continue
		}
		out = append(out, WagerWithPositions{
			Wager:     cloneWager(w),
			Positions: clonePositions(m.position[id]),
		})
	}

	sortListing(out)
	return out, nil
}

func (m *Memory) ListPayouts(_ context.Context, wagerID uuid.UUID) ([]PayoutRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.wagers[wagerID]; !ok {
		return nil, wager.ErrNotFound
	}
	return append([]PayoutRow(nil), m.payouts[wagerID]...), nil
}

func (m *Memory) Update(_ context.Context, id uuid.UUID, fn func(tx *Txn) error) (*wager.Wager, []*wager.Position, error) {
	m.mu.Lock()
	lock, ok := m.locks[id]
	m.mu.Unlock()
	if !ok {
		return nil, nil, wager.ErrNotFound
	}

	// Per-wager critical section: the full read-compute-write cycle runs
	// under this lock, so concurrent placements on the same wager are
	// linearized.
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	tx := &Txn{
		Wager:     cloneWager(m.wagers[id]),
		Positions: clonePositions(m.position[id]),
	}
	m.mu.Unlock()

	if err := fn(tx); err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx.Wager.Version++
	m.wagers[id] = cloneWager(tx.Wager)

	now := time.Now().UTC()
	for _, p := range tx.inserted {
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
	}
	m.position[id] = clonePositions(tx.Positions)

	for _, e := range tx.events {
		m.eventSeq++
		e.ID = m.eventSeq
		e.CreatedAt = now
		m.events[id] = append(m.events[id], e)
	}
	for _, p := range tx.payouts {
		p.CreatedAt = now
		m.payouts[id] = append(m.payouts[id], p)
	}

	return cloneWager(tx.Wager), clonePositions(tx.Positions), nil
}

// Events returns the audit trail of a wager (test helper).
func (m *Memory) Events(wagerID uuid.UUID) []EventRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EventRow(nil), m.events[wagerID]...)
}

func cloneWager(w *wager.Wager) *wager.Wager {
	c := *w
	c.Sides = append([]string(nil), w.Sides...)
	if w.Deadline != nil {
		d := *w.Deadline
		c.Deadline = &d
	}
	if w.Result != nil {
		r := *w.Result
		c.Result = &r
	}
	if w.ProofRef != nil {
		p := *w.ProofRef
		c.ProofRef = &p
	}
	return &c
}

func clonePositions(positions []*wager.Position) []*wager.Position {
	out := make([]*wager.Position, len(positions))
	for i, p := range positions {
		c := *p
		out[i] = &c
	}
	return out
}

func sortListing(list []WagerWithPositions) {
	for i := 1; i < len(list); i++ {
		for j := i; j > 0 && list[j].Wager.CreatedAt.Before(list[j-1].Wager.CreatedAt); j-- {
			list[j], list[j-1] = list[j-1], list[j]
		}
	}
}
