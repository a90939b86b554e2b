package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"WagerPool/internal/match"
	"WagerPool/internal/store"
	"WagerPool/internal/wager"
)

func newWager(t *testing.T, m *store.Memory) *wager.Wager {
	t.Helper()
	w := &wager.Wager{
		ID:      uuid.New(),
		GroupID: "group-1",
		Creator: "alice",
		Title:   "test wager",
		Sides:   []string{"yes", "no"},
		Status:  wager.StatusOpen,
	}
	if err := m.CreateWager(context.Background(), w); err != nil {
		t.Fatalf("create wager: %v", err)
	}
	return w
}

// ============================================================================
// Test: basic CRUD
// ============================================================================

func TestMemory_GetUnknownWager(t *testing.T) {
	m := store.NewMemory()
	if _, err := m.GetWager(context.Background(), uuid.New()); !errors.Is(err, wager.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestMemory_UpdateCommitsAtomically(t *testing.T) {
	m := store.NewMemory()
	w := newWager(t, m)
	ctx := context.Background()

	_, positions, err := m.Update(ctx, w.ID, func(tx *store.Txn) error {
		tx.Wager.Status = wager.StatusActive
		tx.AppendPosition(&wager.Position{
			ID:          uuid.New(),
			WagerID:     w.ID,
			Participant: "bob",
			Side:        "yes",
			Staked:      100,
		})
		tx.RecordEvent("position_placed", "bob", nil)
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("got %d positions, want 1", len(positions))
	}

	got, stored, err := m.GetWagerWithPositions(ctx, w.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != wager.StatusActive {
		t.Errorf("status: got %v, want active", got.Status)
	}
	if got.Version != 1 {
		t.Errorf("version: got %d, want 1", got.Version)
	}
	if len(stored) != 1 || stored[0].Participant != "bob" {
		t.Errorf("positions not committed: %+v", stored)
	}
	if events := m.Events(w.ID); len(events) != 1 || events[0].EventType != "position_placed" {
		t.Errorf("events not committed: %+v", events)
	}
}

func TestMemory_UpdateRollsBackOnError(t *testing.T) {
	m := store.NewMemory()
	w := newWager(t, m)
	ctx := context.Background()

	sentinel := errors.New("boom")
	_, _, err := m.Update(ctx, w.ID, func(tx *store.Txn) error {
		tx.Wager.Status = wager.StatusCancelled
		tx.AppendPosition(&wager.Position{ID: uuid.New(), WagerID: w.ID, Staked: 5})
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("got %v, want sentinel", err)
	}

	got, positions, err := m.GetWagerWithPositions(ctx, w.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != wager.StatusOpen || got.Version != 0 {
		t.Errorf("failed update leaked: status=%v version=%d", got.Status, got.Version)
	}
	if len(positions) != 0 {
		t.Errorf("failed update leaked %d positions", len(positions))
	}
}

func TestMemory_SnapshotsAreIsolated(t *testing.T) {
	m := store.NewMemory()
	w := newWager(t, m)
	ctx := context.Background()

	got, err := m.GetWager(ctx, w.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.Status = wager.StatusCancelled
	got.Sides[0] = "mutated"

	fresh, err := m.GetWager(ctx, w.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fresh.Status != wager.StatusOpen || fresh.Sides[0] != "yes" {
		t.Error("mutating a returned snapshot affected stored state")
	}
}

func TestMemory_ListWagersFiltersByStatus(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	w1 := newWager(t, m)
	newWager(t, m)

	_, _, err := m.Update(ctx, w1.ID, func(tx *store.Txn) error {
		tx.Wager.Status = wager.StatusActive
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	active := wager.StatusActive
	listing, err := m.ListWagers(ctx, "group-1", &active)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listing) != 1 || listing[0].Wager.ID != w1.ID {
		t.Errorf("got %d wagers, want just the active one", len(listing))
	}

	all, err := m.ListWagers(ctx, "group-1", nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("got %d wagers, want 2", len(all))
	}
}

// ============================================================================
// Test: concurrency
// ============================================================================

func TestMemory_ConcurrentPlacementsStayConserved(t *testing.T) {
	m := store.NewMemory()
	w := newWager(t, m)
	ctx := context.Background()

	const workers = 16
	const perWorker = 10

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		side := "yes"
		if i%2 == 1 {
			side = "no"
		}
		wg.Add(1)
		go func(side string) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, _, err := m.Update(ctx, w.ID, func(tx *store.Txn) error {
					tx.AppendPosition(&wager.Position{
						ID:        uuid.New(),
						WagerID:   w.ID,
						Side:      side,
						Staked:    7,
						CreatedAt: time.Now(),
					})
					match.Run(tx.Wager, tx.Positions)
					return nil
				})
				if err != nil {
					t.Errorf("update: %v", err)
					return
				}
			}
		}(side)
	}
	wg.Wait()

	got, positions, err := m.GetWagerWithPositions(ctx, w.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != workers*perWorker {
		t.Errorf("version: got %d, want %d", got.Version, workers*perWorker)
	}

	pools := match.MatchedPools(got, positions)
	if pools["yes"] != pools["no"] {
		t.Errorf("pools unbalanced under concurrency: yes=%d no=%d", pools["yes"], pools["no"])
	}
	for _, p := range positions {
		if p.Matched < 0 || p.Matched > p.Staked {
			t.Errorf("matched %d outside [0, %d]", p.Matched, p.Staked)
		}
	}
}
