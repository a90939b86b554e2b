// Package settle computes payouts for a resolved wager. The computation is
// pure: it reads a snapshot of the wager and its positions and produces a
// participant -> amount list for the external disbursement collaborator. It
// never mutates state and is safe to recompute.
package settle

import (
	"fmt"
	"sort"

	"WagerPool/internal/money"
	"WagerPool/internal/wager"
)

// Payout is the amount owed to one participant.
type Payout struct {
	Participant string `json:"participant"`
	Amount      int64  `json:"amount"` // Fixed-point, money.Scale
}

// Calculate computes the full payout list for a resolved wager:
//
//   - each winning position receives its matched stake back plus a pro-rata
//     cut of the losing matched pool, weighted by its matched amount;
//   - every position on either side receives its unmatched stake back in
//     full, win or lose;
//   - losing matched stake is forfeited (it IS the losing pool).
//
// Residual base units from the pro-rata division go to winning positions in
// creation order, so the matched pool is redistributed exactly and
// Σ payouts == Σ staked always holds.
//
// When the winning side has no matched stake there are no winnings to
// distribute, but unmatched refunds are still paid out.
func Calculate(w *wager.Wager, positions []*wager.Position) ([]Payout, error) {
	if w.Status != wager.StatusResolved || w.Result == nil {
		return nil, wager.TransitionError(w.Status, wager.StatusResolved)
	}

	winningSide := *w.Result
	if !w.HasSide(winningSide) {
		return nil, fmt.Errorf("%w: %q", wager.ErrInvalidWinningSide, winningSide)
	}

	ordered := byCreation(positions)

	// Matched pools are balanced across sides, so the losing pool equals the
	// matched total of everything not on the winning side.
	var losingPool, totalWinningMatched int64
	var winners []*wager.Position
	for _, p := range ordered {
		if p.Side == winningSide {
			if p.Matched > 0 {
				winners = append(winners, p)
				totalWinningMatched += p.Matched
			}
		} else {
			losingPool += p.Matched
		}
	}

	owed := make(map[string]int64, len(ordered))

	// Winnings: return of matched stake plus pro-rata share of the losing
	// pool. ProRata floors each share and assigns the residual FIFO, so the
	// cuts sum to exactly losingPool.
	if totalWinningMatched > 0 {
		weights := make([]int64, len(winners))
		for i, p := range winners {
			weights[i] = p.Matched
		}
		cuts := money.ProRata(losingPool, weights)
		for i, p := range winners {
			owed[p.Participant] += p.Matched + cuts[i]
		}
	}

	// Unmatched refunds for every position, matched or not, either side.
	for _, p := range ordered {
		if u := p.Unmatched(); u > 0 {
			owed[p.Participant] += u
		}
	}

	payouts := make([]Payout, 0, len(owed))
	seen := make(map[string]bool, len(owed))
	for _, p := range ordered {
		if seen[p.Participant] {
			continue
		}
		seen[p.Participant] = true
		if amount, ok := owed[p.Participant]; ok && amount > 0 {
			payouts = append(payouts, Payout{Participant: p.Participant, Amount: amount})
		}
	}

	if err := checkConservation(ordered, payouts, winningSide, totalWinningMatched); err != nil {
		return nil, err
	}

	return payouts, nil
}

// Total sums a payout list.
func Total(payouts []Payout) int64 {
	var total int64
	for _, p := range payouts {
		total += p.Amount
	}
	return total
}

// checkConservation verifies Σ payouts == Σ staked, minus the winning-side
// matched pool when it could not be redistributed (no matched winner exists,
// and with balanced pools the losing matched pool is then zero as well).
func checkConservation(positions []*wager.Position, payouts []Payout, winningSide string, totalWinningMatched int64) error {
	var staked, forfeited int64
	for _, p := range positions {
		staked += p.Staked
		if totalWinningMatched == 0 && p.Matched > 0 {
			forfeited += p.Matched
		}
	}

	if got, want := Total(payouts), staked-forfeited; got != want {
		return fmt.Errorf("settlement conservation violated: payouts %s != staked %s",
			money.Format(got), money.Format(want))
	}
	return nil
}

func byCreation(positions []*wager.Position) []*wager.Position {
	out := make([]*wager.Position, len(positions))
	copy(out, positions)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
