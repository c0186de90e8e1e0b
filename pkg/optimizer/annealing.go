package optimizer

import (
	"math"
	"math/rand"
	"time"

	"github.com/cuemby/helmsman/pkg/config"
)

// annealingResult is the outcome of one SA run.
type annealingResult struct {
	Best        Solution
	BestEnergy  float64
	Iterations  int
	Reheats     int
	FinalTemp   float64
}

// runAnnealing executes the SA engine of spec §4.E.5: Metropolis
// acceptance over a neighbourhood move (compatible-node reassignment
// 0.4, swap 0.3, block-swap 0.3), one of three named cooling
// schedules, and reheating when the rolling acceptance rate falls below
// reheatingThreshold.
func runAnnealing(p *Problem, opts config.AnnealingOptions, seed Solution, rng *rand.Rand) annealingResult {
	if len(p.Tasks) == 0 {
		return annealingResult{Best: Solution{}, BestEnergy: 0}
	}

	current := seed
	if current == nil {
		current = p.RandomSolution(rng)
	}
	currentEnergy := energy(p, current)

	best := cloneSolution(current)
	bestEnergy := currentEnergy

	temp := opts.InitialTemperature
	deadline := time.Now().Add(opts.MaxDuration)

	recentAccepts := 0
	recentTotal := 0
	reheats := 0
	iter := 0

	for iter = 0; iter < opts.MaxIterations && temp > opts.MinTemperature; iter++ {
		if opts.MaxDuration > 0 && time.Now().After(deadline) {
			break
		}

		equilibriumAccepts := 0
		for eq := 0; eq < opts.EquilibriumIterations; eq++ {
			candidate := neighbor(p, current, rng)
			candidateEnergy := energy(p, candidate)

			accept := candidateEnergy <= currentEnergy
			if !accept {
				delta := candidateEnergy - currentEnergy
				accept = rng.Float64() < math.Exp(-delta/temp)
			}

			recentTotal++
			if accept {
				recentAccepts++
				equilibriumAccepts++
				current = candidate
				currentEnergy = candidateEnergy
				if currentEnergy < bestEnergy {
					bestEnergy = currentEnergy
					best = cloneSolution(current)
				}
			}
		}
		equilibriumRate := float64(equilibriumAccepts) / float64(opts.EquilibriumIterations)

		if recentTotal >= opts.AdaptiveWindow {
			windowRate := float64(recentAccepts) / float64(recentTotal)
			if windowRate < opts.ReheatingThreshold && reheats < opts.MaxReheats {
				temp = math.Min(opts.InitialTemperature, 2*temp)
				reheats++
			}
			recentAccepts, recentTotal = 0, 0
		}

		temp = cool(opts, temp, iter, equilibriumRate)
	}

	return annealingResult{Best: best, BestEnergy: bestEnergy, Iterations: iter, Reheats: reheats, FinalTemp: temp}
}

// cool applies the configured cooling schedule (spec §4.E.5). The
// adaptive schedule compares the equilibrium block's acceptance rate
// against target·0.5/target·1.5 to reheat, cool slowly, or cool
// normally; acceptanceRate < 0 means no equilibrium block has completed
// yet and the schedule falls back to a plain geometric step.
func cool(opts config.AnnealingOptions, temp float64, iter int, acceptanceRate float64) float64 {
	switch opts.ScheduleType {
	case "logarithmic":
		return opts.InitialTemperature / math.Log(float64(iter)+2)
	case "adaptive":
		if acceptanceRate < 0 {
			return temp * opts.CoolingRate
		}
		switch {
		case acceptanceRate < opts.TargetAcceptanceRate*0.5:
			return temp * 1.1
		case acceptanceRate > opts.TargetAcceptanceRate*1.5:
			return temp * 0.9
		default:
			return temp * 0.95
		}
	default: // geometric
		return temp * opts.CoolingRate
	}
}

// neighbor draws one move from the SA neighbourhood (spec §4.E.5):
// single-point re-assign to a compatible node (0.4), swap two
// assignments (0.3), or a block-swap of up to 3 consecutive task
// assignments (0.3).
func neighbor(p *Problem, sol Solution, rng *rand.Rand) Solution {
	next := cloneSolution(sol)
	if len(next) == 0 {
		return next
	}

	switch r := rng.Float64(); {
	case r < 0.4:
		i := rng.Intn(len(next))
		next[i] = p.compatibleNodeIndex(p.Tasks[i], rng)
	case r < 0.7 && len(next) > 1:
		i, j := rng.Intn(len(next)), rng.Intn(len(next))
		next[i], next[j] = next[j], next[i]
	default:
		blockSwap(next, rng)
	}
	return next
}

// blockSwap swaps two non-overlapping contiguous blocks of up to 3
// consecutive assignments (spec §4.E.5's "block-swap of length ≤3").
func blockSwap(sol Solution, rng *rand.Rand) {
	n := len(sol)
	if n < 2 {
		return
	}
	maxLen := 3
	if maxLen > n/2 {
		maxLen = n / 2
	}
	if maxLen < 1 {
		maxLen = 1
	}
	blockLen := rng.Intn(maxLen) + 1

	a := rng.Intn(n - blockLen)
	b := rng.Intn(n - blockLen)
	if a == b {
		return
	}
	if a > b {
		a, b = b, a
	}
	if b < a+blockLen {
		b = a + blockLen
		if b+blockLen > n {
			return
		}
	}
	for k := 0; k < blockLen; k++ {
		sol[a+k], sol[b+k] = sol[b+k], sol[a+k]
	}
}
