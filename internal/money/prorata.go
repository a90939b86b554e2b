package money

// ProRata splits pool across weights proportionally using exact integer
// arithmetic. Each share is floor(pool * weight / totalWeight); the residual
// left by flooring is assigned one base unit at a time in slice order, so the
// shares always sum to exactly pool. Entries with zero weight receive nothing.
//
// Slice order is significant: callers pass weights in creation order so the
// residual lands on the earliest entries, matching the FIFO priority used by
// the matching allocator.
func ProRata(pool int64, weights []int64) []int64 {
	shares := make([]int64, len(weights))
	if pool <= 0 {
		return shares
	}

	var totalWeight int64
	for _, w := range weights {
		if w > 0 {
			totalWeight += w
		}
	}
	if totalWeight == 0 {
		return shares
	}

	var distributed int64
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		num := MultiplyInt128(pool, w)
		shares[i] = DivideInt128(num, totalWeight, RoundDown)
		ReleaseInt128(num)
		distributed += shares[i]
	}

	// Residual from flooring: at most len(weights)-1 base units.
	residual := pool - distributed
	for i := 0; residual > 0 && i < len(weights); i++ {
		if weights[i] > 0 {
			shares[i]++
			residual--
		}
	}

	return shares
}
