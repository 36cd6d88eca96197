// SPDX-License-Identifier: Apache-2.0

package balancer

import (
	"math/rand/v2"
	"strings"
)

type Strategy string

const (
	// StrategyLeastLoaded picks the backend with the fewest routed requests.
	StrategyLeastLoaded Strategy = "least_loaded"
	// StrategyRoundRobin is the historical name of least_loaded.
	StrategyRoundRobin Strategy = "round_robin"
	// StrategyLeastConnections reads the same cumulative counter as
	// least_loaded; the counter is never decremented.
	StrategyLeastConnections Strategy = "least_connections"
	StrategyRandom           Strategy = "random"
	// StrategyRotating cycles through healthy backends in registration order.
	StrategyRotating Strategy = "rotating"
)

// ParseStrategy normalizes a configured strategy name. Empty or unknown
// names fall back to least_loaded.
func ParseStrategy(raw string) Strategy {
	switch s := Strategy(strings.ToLower(strings.TrimSpace(raw))); s {
	case StrategyLeastLoaded, StrategyRoundRobin, StrategyLeastConnections:
		return StrategyLeastLoaded
	case StrategyRandom, StrategyRotating:
		return s
	default:
		return StrategyLeastLoaded
	}
}

// Select chooses one of the candidates and reports whether the winner's
// request counter must be incremented. turn is the rotation cursor and is only
// read by the rotating strategy. Candidates must be non-empty.
func Select(candidates []Snapshot, strategy Strategy, turn uint64) (int, bool) {
	switch ParseStrategy(string(strategy)) {
	case StrategyRandom:
		return rand.IntN(len(candidates)), false
	case StrategyRotating:
		return int(turn % uint64(len(candidates))), true
	default:
		return leastLoaded(candidates), true
	}
}

// leastLoaded returns the first candidate with the minimum request count.
func leastLoaded(candidates []Snapshot) int {
	best := 0
	for i := 1; i < len(candidates); i++ {
		if candidates[i].RequestCount < candidates[best].RequestCount {
			best = i
		}
	}
	return best
}
