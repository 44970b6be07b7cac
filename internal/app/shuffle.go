package app

import (
	"math/rand"
	"time"
)

// shuffleOrder returns a Fisher–Yates permutation of [0, n) seeded from the
// attempt start, so a reloaded attempt replays the same order.
func shuffleOrder(n int, startedAt time.Time) []int {
	order := identityOrder(n)
	rnd := rand.New(rand.NewSource(startedAt.UnixMilli()))
	for i := n - 1; i > 0; i-- {
		j := rnd.Intn(i + 1)
		order[i], order[j] = order[j], order[i]
	}
	return order
}

func identityOrder(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}

// isPermutation reports whether order is a permutation of [0, n).
func isPermutation(order []int, n int) bool {
	if len(order) != n {
		return false
	}
	seen := make([]bool, n)
	for _, idx := range order {
		if idx < 0 || idx >= n || seen[idx] {
			return false
		}
		seen[idx] = true
	}
	return true
}
