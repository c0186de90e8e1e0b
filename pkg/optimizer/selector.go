package optimizer

import (
	"github.com/cuemby/helmsman/pkg/config"
)

// algorithm identifies which engine(s) an Optimize call ran.
type algorithm string

const (
	algoGenetic   algorithm = "genetic"
	algoAnnealing algorithm = "simulated_annealing"
	algoHybrid    algorithm = "ml_hybrid"
)

// selectAlgorithm implements spec §4.E.3: an explicit PreferredAlgorithm
// wins outright; otherwise large problems with a generous time budget
// get the GA, small/urgent ones get SA, and everything in between runs
// both and keeps the better result (ml_hybrid).
func selectAlgorithm(p *Problem, sel config.StrategySelectorOptions) algorithm {
	switch p.Constraints.PreferredAlgorithm {
	case string(algoGenetic):
		return algoGenetic
	case string(algoAnnealing):
		return algoAnnealing
	case string(algoHybrid):
		return algoHybrid
	}

	problemSize := len(p.Tasks) * len(p.Nodes)
	budget := p.Constraints.TimeBudget

	switch {
	case problemSize >= sel.GeneticMinProblemSize && (budget == 0 || budget >= sel.MediumTimeBudget):
		return algoGenetic
	case budget > 0 && budget < sel.MediumTimeBudget:
		return algoAnnealing
	default:
		return algoHybrid
	}
}

// hybridGenerations derives a reduced GA generation count for the ml_hybrid
// path, which runs a short GA to seed SA rather than a full GA run.
func hybridGenerations(sel config.StrategySelectorOptions, ga config.GeneticOptions) int {
	if sel.HybridGAGenerations > 0 && sel.HybridGAGenerations < ga.Generations {
		return sel.HybridGAGenerations
	}
	return ga.Generations
}
