package optimizer

import (
	"math/rand"

	"github.com/cuemby/helmsman/pkg/config"
)

// geneticResult is the outcome of one GA run. TopK holds the fittest
// solutions from the final generation (including Best), used by the
// ml_hybrid path to rerank candidates through the performance predictor
// before refining with simulated annealing.
type geneticResult struct {
	Best        Solution
	BestFitness float64
	Generations int
	Converged   bool
	TopK        []Solution
}

// runGenetic executes the GA engine of spec §4.E.4: weighted-random
// initial population, tournament selection, uniform crossover, 3-way
// mutation (point-replace/swap/inversion), elitism, and termination on
// either a generation cap or fitness-improvement stagnation. topK
// solutions from the final generation are retained in the result.
func runGenetic(p *Problem, opts config.GeneticOptions, rng *rand.Rand, topK int) geneticResult {
	if len(p.Tasks) == 0 {
		return geneticResult{Best: Solution{}, BestFitness: 0, Converged: true}
	}

	pop := make([]Solution, opts.PopulationSize)
	for i := range pop {
		pop[i] = p.RandomSolution(rng)
	}

	fit := make([]float64, len(pop))
	evalPopulation(p, pop, fit)

	bestIdx := argmax(fit)
	best := cloneSolution(pop[bestIdx])
	bestFitness := fit[bestIdx]

	eliteCount := int(float64(opts.PopulationSize) * opts.ElitismRate)
	if eliteCount < 1 {
		eliteCount = 1
	}

	stagnant := 0
	gen := 0
	converged := false

	for gen = 0; gen < opts.Generations; gen++ {
		next := make([]Solution, 0, len(pop))
		next = append(next, eliteSolutions(pop, fit, eliteCount)...)

		for len(next) < len(pop) {
			parentA := tournamentSelect(pop, fit, opts.TournamentSize, rng)
			parentB := tournamentSelect(pop, fit, opts.TournamentSize, rng)

			var child Solution
			if rng.Float64() < opts.CrossoverRate {
				child = uniformCrossover(parentA, parentB, rng)
			} else {
				child = cloneSolution(parentA)
			}
			child = mutate(p, child, opts.MutationRate, rng)
			next = append(next, child)
		}

		pop = next
		fit = make([]float64, len(pop))
		evalPopulation(p, pop, fit)

		genBestIdx := argmax(fit)
		if fit[genBestIdx] > bestFitness+opts.ConvergenceThreshold {
			bestFitness = fit[genBestIdx]
			best = cloneSolution(pop[genBestIdx])
			stagnant = 0
		} else {
			stagnant++
		}

		if stagnant >= opts.MaxStagnantGenerations {
			converged = true
			gen++
			break
		}
	}

	if topK < 1 {
		topK = 1
	}
	top := eliteSolutions(pop, fit, topK)

	return geneticResult{Best: best, BestFitness: bestFitness, Generations: gen, Converged: converged, TopK: top}
}

func evalPopulation(p *Problem, pop []Solution, fit []float64) {
	for i, sol := range pop {
		fit[i] = fitness(p, sol)
	}
}

func argmax(fit []float64) int {
	best := 0
	for i, f := range fit {
		if f > fit[best] {
			best = i
		}
	}
	return best
}

func cloneSolution(s Solution) Solution {
	out := make(Solution, len(s))
	copy(out, s)
	return out
}

// eliteSolutions returns the top-n fittest solutions, unmodified, to
// carry over into the next generation verbatim.
func eliteSolutions(pop []Solution, fit []float64, n int) []Solution {
	idx := make([]int, len(pop))
	for i := range idx {
		idx[i] = i
	}
	// simple selection sort over n slots is fine at population scale
	for i := 0; i < n && i < len(idx); i++ {
		maxJ := i
		for j := i + 1; j < len(idx); j++ {
			if fit[idx[j]] > fit[idx[maxJ]] {
				maxJ = j
			}
		}
		idx[i], idx[maxJ] = idx[maxJ], idx[i]
	}
	out := make([]Solution, 0, n)
	for i := 0; i < n && i < len(idx); i++ {
		out = append(out, cloneSolution(pop[idx[i]]))
	}
	return out
}

func tournamentSelect(pop []Solution, fit []float64, size int, rng *rand.Rand) Solution {
	if size < 1 {
		size = 1
	}
	bestIdx := rng.Intn(len(pop))
	for i := 1; i < size; i++ {
		challenger := rng.Intn(len(pop))
		if fit[challenger] > fit[bestIdx] {
			bestIdx = challenger
		}
	}
	return pop[bestIdx]
}

func uniformCrossover(a, b Solution, rng *rand.Rand) Solution {
	child := make(Solution, len(a))
	for i := range child {
		if rng.Float64() < 0.5 {
			child[i] = a[i]
		} else {
			child[i] = b[i]
		}
	}
	return child
}

// mutate applies spec §4.E.4's 3-way mutation once per child, with
// probability mutationRate: point-replace (0.3), swap two assignments
// (0.3), or inversion of a contiguous sub-sequence (0.4).
func mutate(p *Problem, sol Solution, mutationRate float64, rng *rand.Rand) Solution {
	if rng.Float64() >= mutationRate || len(sol) == 0 {
		return sol
	}

	switch r := rng.Float64(); {
	case r < 0.3:
		i := rng.Intn(len(sol))
		if len(p.Nodes) > 0 {
			sol[i] = rng.Intn(len(p.Nodes))
		}
	case r < 0.6 && len(sol) > 1:
		i, j := rng.Intn(len(sol)), rng.Intn(len(sol))
		sol[i], sol[j] = sol[j], sol[i]
	default:
		invertSegment(sol, rng)
	}
	return sol
}

// invertSegment reverses a contiguous sub-sequence of sol in place,
// the GA's inversion operator (spec §4.E.4).
func invertSegment(sol Solution, rng *rand.Rand) {
	if len(sol) < 2 {
		return
	}
	i, j := rng.Intn(len(sol)), rng.Intn(len(sol))
	if i > j {
		i, j = j, i
	}
	for i < j {
		sol[i], sol[j] = sol[j], sol[i]
		i++
		j--
	}
}
