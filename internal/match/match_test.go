package match_test

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"WagerPool/internal/match"
	"WagerPool/internal/wager"
)

func twoSided() *wager.Wager {
	return &wager.Wager{
		ID:     uuid.New(),
		Sides:  []string{"yes", "no"},
		Status: wager.StatusOpen,
	}
}

func position(side string, staked int64, at time.Time) *wager.Position {
	return &wager.Position{
		ID:        uuid.New(),
		Side:      side,
		Staked:    staked,
		CreatedAt: at,
	}
}

// ============================================================================
// Test: FIFO allocation
// ============================================================================

func TestRun_FIFOPartialFill(t *testing.T) {
	// yes: p1=10 then p2=20; no: q=15. Pairable amount is 15:
	// p1 fills fully (10), p2 fills 5, q fills 15.
	w := twoSided()
	base := time.Now()
	p1 := position("yes", 10, base)
	p2 := position("yes", 20, base.Add(time.Second))
	q := position("no", 15, base.Add(2*time.Second))

	result := match.Run(w, []*wager.Position{p1, p2, q})

	if result.Amount != 15 {
		t.Fatalf("matched amount: got %d, want 15", result.Amount)
	}
	if p1.Matched != 10 {
		t.Errorf("p1 matched: got %d, want 10", p1.Matched)
	}
	if p2.Matched != 5 {
		t.Errorf("p2 matched: got %d, want 5", p2.Matched)
	}
	if q.Matched != 15 {
		t.Errorf("q matched: got %d, want 15", q.Matched)
	}
}

func TestRun_OrderIndependentOfSliceOrder(t *testing.T) {
	// Allocation follows CreatedAt, not the slice order handed in.
	w := twoSided()
	base := time.Now()
	older := position("yes", 10, base)
	newer := position("yes", 10, base.Add(time.Minute))
	opp := position("no", 10, base.Add(2*time.Minute))

	match.Run(w, []*wager.Position{newer, opp, older})

	if older.Matched != 10 {
		t.Errorf("older position should fill first: matched %d", older.Matched)
	}
	if newer.Matched != 0 {
		t.Errorf("newer position should not fill: matched %d", newer.Matched)
	}
}

// ============================================================================
// Test: Invariants
// ============================================================================

func TestRun_BalancedPools(t *testing.T) {
	w := twoSided()
	base := time.Now()
	positions := []*wager.Position{
		position("yes", 100, base),
		position("yes", 37, base.Add(time.Second)),
		position("no", 60, base.Add(2*time.Second)),
		position("no", 11, base.Add(3*time.Second)),
	}

	match.Run(w, positions)

	pools := match.MatchedPools(w, positions)
	if pools["yes"] != pools["no"] {
		t.Errorf("pools unbalanced: yes=%d no=%d", pools["yes"], pools["no"])
	}
	if pools["yes"] != 71 {
		t.Errorf("matched pool: got %d, want 71", pools["yes"])
	}
}

func TestRun_MatchedNeverExceedsStaked(t *testing.T) {
	w := twoSided()
	base := time.Now()
	positions := []*wager.Position{
		position("yes", 5, base),
		position("no", 1000, base.Add(time.Second)),
	}

	match.Run(w, positions)

	for _, p := range positions {
		if p.Matched < 0 || p.Matched > p.Staked {
			t.Errorf("matched %d outside [0, %d]", p.Matched, p.Staked)
		}
	}
}

func TestRun_Idempotent(t *testing.T) {
	w := twoSided()
	base := time.Now()
	positions := []*wager.Position{
		position("yes", 50, base),
		position("no", 30, base.Add(time.Second)),
	}

	first := match.Run(w, positions)
	if first.Amount != 30 {
		t.Fatalf("first cycle: got %d, want 30", first.Amount)
	}

	second := match.Run(w, positions)
	if second.Amount != 0 {
		t.Errorf("re-run with no new positions matched %d, want 0", second.Amount)
	}
	if positions[0].Matched != 30 || positions[1].Matched != 30 {
		t.Error("re-run changed matched amounts")
	}
}

func TestRun_OneSidedNoMatch(t *testing.T) {
	w := twoSided()
	result := match.Run(w, []*wager.Position{position("yes", 100, time.Now())})
	if result.Amount != 0 {
		t.Errorf("one-sided wager matched %d, want 0", result.Amount)
	}
}

func TestRun_MultiSideNoOp(t *testing.T) {
	w := &wager.Wager{ID: uuid.New(), Sides: []string{"a", "b", "c"}}
	base := time.Now()
	positions := []*wager.Position{
		position("a", 10, base),
		position("b", 10, base.Add(time.Second)),
		position("c", 10, base.Add(2*time.Second)),
	}

	result := match.Run(w, positions)
	if result.Amount != 0 {
		t.Errorf("multi-side wager matched %d, want 0", result.Amount)
	}
	for _, p := range positions {
		if p.Matched != 0 {
			t.Errorf("side %s matched %d, want 0", p.Side, p.Matched)
		}
	}
}

func TestRun_IncrementalArrivals(t *testing.T) {
	// New opposing stake matches against the earliest remaining unmatched.
	w := twoSided()
	base := time.Now()
	p1 := position("yes", 10, base)
	p2 := position("yes", 20, base.Add(time.Second))
	positions := []*wager.Position{p1, p2}

	q1 := position("no", 15, base.Add(2*time.Second))
	positions = append(positions, q1)
	match.Run(w, positions)

	q2 := position("no", 20, base.Add(3*time.Second))
	positions = append(positions, q2)
	result := match.Run(w, positions)

	if result.Amount != 15 {
		t.Fatalf("second cycle: got %d, want 15", result.Amount)
	}
	if p2.Matched != 20 {
		t.Errorf("p2 matched: got %d, want 20", p2.Matched)
	}
	if q2.Matched != 15 {
		t.Errorf("q2 matched: got %d, want 15 (5 unmatched)", q2.Matched)
	}

	pools := match.MatchedPools(w, positions)
	if pools["yes"] != 30 || pools["no"] != 30 {
		t.Errorf("pools: yes=%d no=%d, want 30/30", pools["yes"], pools["no"])
	}
}
