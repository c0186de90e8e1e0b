package optimizer

import (
	"context"
	"math/rand"
	"time"

	"github.com/cuemby/helmsman/pkg/bus"
	"github.com/cuemby/helmsman/pkg/config"
	"github.com/cuemby/helmsman/pkg/log"
	"github.com/cuemby/helmsman/pkg/metrics"
	"github.com/cuemby/helmsman/pkg/predictor"
	"github.com/cuemby/helmsman/pkg/telemetry"
	"github.com/cuemby/helmsman/pkg/types"
	"github.com/rs/zerolog"
)

// OptimizationReport is the full contract returned by Optimize (spec
// §4.E.6): the winning placement, which algorithm produced it, and
// enough run metadata to audit or tune the search.
type OptimizationReport struct {
	Placement  types.Placement `json:"placement"`
	Algorithm  string          `json:"algorithm"`
	Iterations int             `json:"iterations"`
	Duration   time.Duration   `json:"duration"`
	Fitness    float64         `json:"fitness"`
	Converged  bool            `json:"converged"`
}

// Optimizer runs the placement search described by spec §4.E.
type Optimizer struct {
	opts      config.Options
	b         *bus.Bus
	log       zerolog.Logger
	predictor *predictor.Ensemble
}

// New constructs an Optimizer. b may be nil, in which case placement
// lifecycle events are not published (useful for pure offline search).
func New(b *bus.Bus, opts config.Options) *Optimizer {
	return &Optimizer{opts: opts, b: b, log: log.WithComponent("optimizer")}
}

// WithPredictor wires the Performance Predictor into the ml_hybrid
// path (spec §4.E.3: "score candidates with the Performance Predictor,
// re-rank, then refine top-k with SA"). Without a trained predictor,
// ml_hybrid falls back to seeding SA with the GA's raw best solution.
func (o *Optimizer) WithPredictor(p *predictor.Ensemble) *Optimizer {
	o.predictor = p
	return o
}

// Optimize runs the strategy selector and the engine(s) it picks,
// returning a best-effort report. It never returns an error: a search
// that fails to converge or cannot satisfy every constraint still
// returns its best candidate with Placement.Valid=false.
func (o *Optimizer) Optimize(ctx context.Context, nodes []types.Node, tasks []types.Task, constraints Constraints) OptimizationReport {
	ctx, endSpan := telemetry.StartSpan(ctx, "optimizer", "Optimize")
	defer endSpan()

	start := time.Now()
	problem := NewProblem(nodes, tasks, constraints)

	o.publish(ctx, bus.EventPlacementStarted, map[string]any{"taskCount": len(tasks), "nodeCount": len(nodes)})

	algo := selectAlgorithm(problem, o.opts.StrategySelector)
	rng := rand.New(rand.NewSource(seedFromConstraints(constraints)))

	var report OptimizationReport
	switch algo {
	case algoGenetic:
		report = o.runGeneticReport(problem, rng)
	case algoAnnealing:
		var seed Solution
		if sp := constraints.SeedPlacement; sp != nil && len(sp.Assignments) == len(tasks) {
			seed = make(Solution, len(tasks))
			for i := 0; seed != nil && i < len(tasks); i++ {
				seed[i] = -1
				for j := range nodes {
					if nodes[j].ID == sp.Assignments[i].NodeID && sp.Assignments[i].TaskID == tasks[i].ID {
						seed[i] = j
					}
				}
				if seed[i] < 0 {
					seed = nil
				}
			}
		}
		report = o.runAnnealingReport(problem, seed, rng)
	default: // ml_hybrid: short GA, predictor rerank of top-K, SA refines the winner
		gaOpts := o.opts.Genetic
		gaOpts.Generations = hybridGenerations(o.opts.StrategySelector, o.opts.Genetic)
		gaResult := runGenetic(problem, gaOpts, rng, o.opts.StrategySelector.HybridTopK)

		seed := gaResult.Best
		seedFitness := gaResult.BestFitness
		if o.predictor != nil && o.predictor.IsTrained() && len(gaResult.TopK) > 1 {
			seed = o.rerankByPredictor(problem, gaResult.TopK)
			seedFitness = fitness(problem, seed)
		}

		saResult := runAnnealing(problem, o.opts.Annealing, seed, rng)
		saFitness := fitness(problem, saResult.Best)

		if saFitness >= seedFitness {
			report = o.buildReport(problem, string(algoHybrid), saResult.Best, saFitness, saResult.Iterations, gaResult.Converged)
		} else {
			report = o.buildReport(problem, string(algoHybrid), seed, seedFitness, gaResult.Generations, gaResult.Converged)
		}
	}

	report.Duration = time.Since(start)

	metrics.OptimizationsTotal.WithLabelValues(report.Algorithm, validLabel(report.Placement.Valid)).Inc()
	metrics.OptimizationDuration.WithLabelValues(report.Algorithm).Observe(report.Duration.Seconds())
	metrics.OptimizationIterations.WithLabelValues(report.Algorithm).Observe(float64(report.Iterations))
	metrics.OptimizationBestFitness.WithLabelValues(report.Algorithm).Set(report.Fitness)

	if report.Placement.Valid {
		o.publish(ctx, bus.EventPlacementCompleted, report)
	} else {
		o.publish(ctx, bus.EventPlacementInvalid, report)
	}

	o.log.Info().
		Str("algorithm", report.Algorithm).
		Float64("fitness", report.Fitness).
		Bool("valid", report.Placement.Valid).
		Dur("duration", report.Duration).
		Msg("placement optimization completed")

	return report
}

func (o *Optimizer) runGeneticReport(p *Problem, rng *rand.Rand) OptimizationReport {
	result := runGenetic(p, o.opts.Genetic, rng, 1)
	return o.buildReport(p, string(algoGenetic), result.Best, result.BestFitness, result.Generations, result.Converged)
}

func (o *Optimizer) runAnnealingReport(p *Problem, seed Solution, rng *rand.Rand) OptimizationReport {
	result := runAnnealing(p, o.opts.Annealing, seed, rng)
	f := fitness(p, result.Best)
	return o.buildReport(p, string(algoAnnealing), result.Best, f, result.Iterations, result.FinalTemp <= o.opts.Annealing.MinTemperature)
}

func (o *Optimizer) buildReport(p *Problem, algo string, best Solution, f float64, iterations int, converged bool) OptimizationReport {
	placement := p.Replay(best)
	for i := range placement.Assignments {
		placement.Assignments[i].Strategy = algo
	}
	return OptimizationReport{
		Placement:  placement,
		Algorithm:  algo,
		Iterations: iterations,
		Fitness:    f,
		Converged:  converged,
	}
}

// rerankByPredictor scores each GA top-K candidate with the
// performance predictor and returns the highest-scoring one.
func (o *Optimizer) rerankByPredictor(p *Problem, candidates []Solution) Solution {
	best := candidates[0]
	bestScore := o.predictorScore(p, best)
	for _, sol := range candidates[1:] {
		if score := o.predictorScore(p, sol); score > bestScore {
			bestScore = score
			best = sol
		}
	}
	return best
}

// predictorScore averages the predictor's per-assignment (latency,
// cost, reliability) estimate across sol, weighted the same as fitness
// so predictor-ranked and raw-fitness-ranked candidates stay
// comparable.
func (o *Optimizer) predictorScore(p *Problem, sol Solution) float64 {
	now := time.Now()
	var total float64
	var n int
	for i, nodeIdx := range sol {
		if nodeIdx < 0 || nodeIdx >= len(p.Nodes) || i >= len(p.Tasks) {
			continue
		}
		features := predictor.BuildFeatures(p.Nodes[nodeIdx], p.Tasks[i], predictor.HistoricalAggregate{}, now)
		pred := o.predictor.Predict(features)

		latencyScore := 1 - normalize(pred.Latency, p.Constraints.MaxLatencyMs)
		costScore := 1 - normalize(pred.Cost, p.Constraints.MaxCostBudget)
		total += weightLatency*latencyScore + weightCost*costScore + weightReliability*pred.Reliability
		n++
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

func (o *Optimizer) publish(ctx context.Context, eventType string, payload any) {
	if o.b == nil {
		return
	}
	env, err := bus.NewEnvelope("optimizer", eventType, payload)
	if err != nil {
		o.log.Warn().Err(err).Str("event", eventType).Msg("failed to build placement event envelope")
		return
	}
	if err := o.b.Publish(ctx, bus.ChannelPlacement, env); err != nil {
		o.log.Warn().Err(err).Str("event", eventType).Msg("failed to publish placement event")
	}
}

func validLabel(valid bool) string {
	if valid {
		return "true"
	}
	return "false"
}

// seedFromConstraints derives a PRNG seed. A caller-supplied
// SeedPlacement (e.g. re-optimizing after a partial failure) makes the
// run depend on the prior result's shape rather than wall-clock time,
// keeping repeated re-optimizations of the same incident reproducible.
func seedFromConstraints(c Constraints) int64 {
	if c.SeedPlacement == nil {
		return time.Now().UnixNano()
	}
	seed := int64(len(c.SeedPlacement.Assignments)) + 1
	for _, a := range c.SeedPlacement.Assignments {
		for _, r := range a.NodeID {
			seed = seed*31 + int64(r)
		}
	}
	return seed
}
