// Package match pairs opposing stakes within a single wager. It mirrors
// price-time priority in order-matching markets: the pairable amount is
// allocated to positions in creation order, oldest first, so allocation is
// deterministic and auditable.
package match

import (
	"sort"

	"WagerPool/internal/wager"
)

// Result summarizes one matching cycle.
type Result struct {
	// Amount newly paired on EACH side this cycle. Zero means the cycle was
	// a no-op (one side had no unmatched stake, or the wager is not
	// two-sided).
	Amount int64

	// Filled lists the positions whose matched amount increased.
	Filled []*wager.Position
}

// Run recomputes matched amounts for the wager's positions so the two sides'
// matched pools are maximally balanced. Positions are mutated in place
// (Matched only ever increases). The caller must hold the wager's critical
// section.
//
// Run is idempotent: once one side has no unmatched stake, re-running with no
// new positions changes nothing. Wagers with more than two sides are never
// matched.
func Run(w *wager.Wager, positions []*wager.Position) Result {
	if !w.Matchable() {
		return Result{}
	}

	sideA := filterSide(positions, w.Sides[0])
	sideB := filterSide(positions, w.Sides[1])

	unmatchedA := unmatchedTotal(sideA)
	unmatchedB := unmatchedTotal(sideB)

	amount := unmatchedA
	if unmatchedB < amount {
		amount = unmatchedB
	}
	if amount <= 0 {
		return Result{}
	}

	filled := allocate(sideA, amount)
	filled = append(filled, allocate(sideB, amount)...)

	return Result{Amount: amount, Filled: filled}
}

// MatchedPools returns the per-side matched totals. After every successful
// cycle of a two-sided wager these are equal (the matched pool is balanced).
func MatchedPools(w *wager.Wager, positions []*wager.Position) map[string]int64 {
	pools := make(map[string]int64, len(w.Sides))
	for _, s := range w.Sides {
		pools[s] = 0
	}
	for _, p := range positions {
		pools[p.Side] += p.Matched
	}
	return pools
}

func filterSide(positions []*wager.Position, side string) []*wager.Position {
	out := make([]*wager.Position, 0, len(positions))
	for _, p := range positions {
		if p.Side == side {
			out = append(out, p)
		}
	}

	// Creation order; position ID breaks timestamp ties deterministically.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out
}

func unmatchedTotal(positions []*wager.Position) int64 {
	var total int64
	for _, p := range positions {
		total += p.Unmatched()
	}
	return total
}

// allocate fills amount across positions oldest-first, capped by each
// position's remaining room.
func allocate(positions []*wager.Position, amount int64) []*wager.Position {
	var filled []*wager.Position
	remaining := amount

	for _, p := range positions {
		if remaining == 0 {
			break
		}
		room := p.Unmatched()
		if room <= 0 {
			continue
		}
		take := room
		if remaining < take {
			take = remaining
		}
		p.Matched += take
		remaining -= take
		filled = append(filled, p)
	}

	return filled
}
